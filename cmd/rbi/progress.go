package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

// progressWriter writes each frame as one JSON line. Frames from concurrent
// runs never interleave within a line.
type progressWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newProgressWriter(w io.Writer) *progressWriter {
	return &progressWriter{enc: json.NewEncoder(w)}
}

// Publish implements operations.Sink
func (p *progressWriter) Publish(frame events.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// a broken stderr must not fail the batch
	_ = p.enc.Encode(frame)
}
