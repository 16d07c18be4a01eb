// Package events contains the progress event contract emitted while runs execute.
// The same frames are written as JSON lines to stderr and pushed to websocket clients.
package events

import (
	"encoding/json"
	"time"
)

// Protocol version
const (
	ProtocolVersion = "1.0"
	ProtocolName    = "rbi-progress"
)

// EventType identifies a progress event
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunFinished   EventType = "run.finished"
	EventStageStarted  EventType = "stage.started"
	EventStageFinished EventType = "stage.finished"
	EventAttempt       EventType = "attempt"
	EventLLMCall       EventType = "llm.call"
	EventBatchFinished EventType = "batch.finished"
)

// Frame is one progress event
type Frame struct {
	Version   string          `json:"version"`
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	TraceID   string          `json:"trace_id,omitempty"`
}

// NewFrame builds a frame with payload marshalled to JSON.
// A payload that cannot be marshalled is dropped rather than failing the caller.
func NewFrame(eventType EventType, runID, stage string, payload interface{}) Frame {
	f := Frame{
		Version:   ProtocolVersion,
		Type:      eventType,
		RunID:     runID,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			f.Payload = raw
		}
	}
	return f
}

// StagePayload accompanies stage.started and stage.finished
type StagePayload struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// AttemptPayload accompanies attempt events
type AttemptPayload struct {
	Index     int      `json:"index"`
	Outcome   string   `json:"outcome"`
	Accepted  bool     `json:"accepted"`
	Metric    *float64 `json:"metric,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Rejected  string   `json:"rejected,omitempty"`
}

// RunPayload accompanies run.started and run.finished
type RunPayload struct {
	SourceRef   string `json:"source_ref"`
	Dir         string `json:"dir"`
	Status      string `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
}

// LLMPayload accompanies llm.call events
type LLMPayload struct {
	Seq      int    `json:"seq"`
	Role     string `json:"role"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Tries    int    `json:"tries"`
	Outcome  string `json:"outcome"`
	Tokens   int    `json:"tokens"`
	Error    string `json:"error,omitempty"`
}
