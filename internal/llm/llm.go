// Package llm is the gateway every stage uses to talk to language models.
//
// One call contract, Complete(model, system, prompt, max tokens), is routed
// to a provider transport by model id. The gateway retries transient
// failures with exponential backoff, rate-limits each provider and treats an
// empty completion as a failure. A Session adds the per-run token budget and
// writes an audit record for every call.
package llm

import (
	"context"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Provider names
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderDeepSeek   = "deepseek"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// Request is one completion request as seen by a provider transport
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is a provider's completion with its token accounting
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a transport for one vendor API
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client is what the stages depend on: a chat call attributed to a stage
type Client interface {
	Chat(ctx context.Context, stage domain.Stage, model, system, prompt string) (string, error)
}

// Keys holds provider credentials. Every key is optional; a provider whose
// key is missing is never routed to.
type Keys struct {
	OpenAI     string `envconfig:"OPENAI_API_KEY"`
	Anthropic  string `envconfig:"ANTHROPIC_API_KEY"`
	DeepSeek   string `envconfig:"DEEPSEEK_API_KEY"`
	Groq       string `envconfig:"GROQ_API_KEY"`
	OpenRouter string `envconfig:"OPENROUTER_API_KEY"`
	Gemini     string `envconfig:"GEMINI_API_KEY"`
	Google     string `envconfig:"GOOGLE_API_KEY"`
}

// LoadKeys reads provider keys from the environment
func LoadKeys() (Keys, error) {
	var k Keys
	err := envconfig.Process("", &k)
	return k, err
}

// GeminiKey prefers GEMINI_API_KEY and falls back to GOOGLE_API_KEY
func (k Keys) GeminiKey() string {
	if k.Gemini != "" {
		return k.Gemini
	}
	return k.Google
}

// TemperatureFor is the sampling temperature policy per stage
func TemperatureFor(stage domain.Stage) float64 {
	switch stage {
	case domain.StageResearch, domain.StageOptimize:
		return 0.7
	default:
		return 0.2
	}
}

var knownProviders = map[string]bool{
	ProviderOpenAI:     true,
	ProviderAnthropic:  true,
	ProviderDeepSeek:   true,
	ProviderGroq:       true,
	ProviderOpenRouter: true,
	ProviderGemini:     true,
	ProviderOllama:     true,
}

// ParseModel splits a model id into provider and provider-side model name.
// "provider:model" is explicit; otherwise the provider is inferred from the
// model prefix. ok is false when no provider can be inferred.
func ParseModel(id string) (provider, model string, ok bool) {
	if name, rest, found := strings.Cut(id, ":"); found && knownProviders[name] && rest != "" {
		return name, rest, true
	}
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "chatgpt-"),
		strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ProviderOpenAI, id, true
	case strings.HasPrefix(lower, "claude-"):
		return ProviderAnthropic, id, true
	case strings.HasPrefix(lower, "deepseek-"):
		return ProviderDeepSeek, id, true
	case strings.HasPrefix(lower, "gemini-"):
		return ProviderGemini, id, true
	}
	return "", "", false
}

// estimateTokens approximates usage for providers that report none
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
