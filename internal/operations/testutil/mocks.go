package testutil

import (
	"context"
	"sync"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Reply is one scripted LLM response
type Reply struct {
	Text string
	Err  error
}

// ChatCall records one call made to MockLLM
type ChatCall struct {
	Stage  domain.Stage
	Model  string
	System string
	Prompt string
}

// MockLLM implements llm.Client with per-stage reply queues. When a stage's
// queue has one reply left it is repeated for every further call; a stage
// with no replies fails with llm-exhausted.
type MockLLM struct {
	mu      sync.Mutex
	replies map[domain.Stage][]Reply
	Calls   []ChatCall
}

// NewMockLLM creates an empty mock
func NewMockLLM() *MockLLM {
	return &MockLLM{replies: make(map[domain.Stage][]Reply)}
}

// On queues text replies for stage
func (m *MockLLM) On(stage domain.Stage, texts ...string) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.replies[stage] = append(m.replies[stage], Reply{Text: t})
	}
	return m
}

// Fail queues an error reply for stage
func (m *MockLLM) Fail(stage domain.Stage, err error) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[stage] = append(m.replies[stage], Reply{Err: err})
	return m
}

// Chat implements llm.Client
func (m *MockLLM) Chat(ctx context.Context, stage domain.Stage, model, system, prompt string) (string, error) {
	if err := errors.FromContext(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ChatCall{Stage: stage, Model: model, System: system, Prompt: prompt})

	queue := m.replies[stage]
	if len(queue) == 0 {
		return "", errors.Newf(errors.KindLLMExhausted, "no scripted reply for %s", stage)
	}
	reply := queue[0]
	if len(queue) > 1 {
		m.replies[stage] = queue[1:]
	}
	return reply.Text, reply.Err
}

// CallsFor returns the calls made for stage
func (m *MockLLM) CallsFor(stage domain.Stage) []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ChatCall
	for _, c := range m.Calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}
