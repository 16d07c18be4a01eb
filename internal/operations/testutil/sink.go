package testutil

import (
	"sync"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

// CaptureSink records every published frame
type CaptureSink struct {
	mu     sync.Mutex
	frames []events.Frame
}

// NewCaptureSink creates an empty sink
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// Publish implements operations.Sink
func (s *CaptureSink) Publish(f events.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

// Frames returns a copy of the recorded frames
func (s *CaptureSink) Frames() []events.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Frame(nil), s.frames...)
}

// OfType returns the frames of one event type
func (s *CaptureSink) OfType(t events.EventType) []events.Frame {
	var out []events.Frame
	for _, f := range s.Frames() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Types returns the event type of every frame in order
func (s *CaptureSink) Types() []events.EventType {
	frames := s.Frames()
	out := make([]events.EventType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}
