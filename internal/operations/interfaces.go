package operations

import (
	"context"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/ingest"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

// Sink receives progress frames; the websocket hub and the --progress
// writer implement it
type Sink interface {
	Publish(frame events.Frame)
}

// Ingestor turns a source reference into a brief
type Ingestor interface {
	Ingest(ctx context.Context, ref string) (ingest.Brief, error)
}

// ClientFactory returns the LLM client of one run. onCall must be invoked
// after every call so the progress stream can report it.
type ClientFactory func(run *artifacts.Run, onCall func(domain.LLMCall)) llm.Client

// GatewayClients opens a budgeted gateway session per run that records each
// call into the run directory
func GatewayClients(gw *llm.Gateway, budget int) ClientFactory {
	return func(run *artifacts.Run, onCall func(domain.LLMCall)) llm.Client {
		session := gw.NewSession(run, budget, nil)
		session.OnCall(onCall)
		return session
	}
}
