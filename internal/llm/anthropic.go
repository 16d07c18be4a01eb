package llm

import (
	"context"
	"net/http"
	"strings"
)

// Anthropic messages API constants
const (
	AnthropicBaseURL = "https://api.anthropic.com/v1"
	AnthropicVersion = "2023-06-01"
)

// Anthropic is the transport for the messages API
type Anthropic struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAnthropic creates an Anthropic transport
func NewAnthropic(baseURL, apiKey string, client *http.Client) *Anthropic {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Anthropic{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// Name implements Provider
func (a *Anthropic) Name() string { return ProviderAnthropic }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider
func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": AnthropicVersion,
	}

	var out anthropicResponse
	if err := postJSON(ctx, a.client, ProviderAnthropic, a.baseURL+"/messages", headers, body, &out); err != nil {
		return Response{}, err
	}

	var b strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return Response{}, emptyContent(ProviderAnthropic)
	}
	return Response{
		Text:             text,
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
	}, nil
}
