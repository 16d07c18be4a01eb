package llm

import (
	"context"
	"net/http"
	"strings"
)

// Default endpoints of the OpenAI-compatible providers
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	DeepSeekBaseURL   = "https://api.deepseek.com/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAICompatible speaks the chat-completions wire used by OpenAI, DeepSeek,
// Groq, OpenRouter and Ollama.
type OpenAICompatible struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAICompatible creates a transport. An empty apiKey sends no
// Authorization header, which is what a local Ollama expects.
func NewOpenAICompatible(name, baseURL, apiKey string, client *http.Client) *OpenAICompatible {
	if client == nil {
		client = NewHTTPClient()
	}
	return &OpenAICompatible{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Name implements Provider
func (o *OpenAICompatible) Name() string { return o.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	Stream              bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Provider
func (o *OpenAICompatible) Complete(ctx context.Context, req Request) (Response, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	// OpenAI reasoning models reject max_tokens and any non-default temperature
	if o.name == ProviderOpenAI && isReasoningModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		body.MaxTokens = req.MaxTokens
		t := req.Temperature
		body.Temperature = &t
	}

	headers := map[string]string{}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}

	var out chatResponse
	if err := postJSON(ctx, o.client, o.name, o.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return Response{}, err
	}

	var text string
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, emptyContent(o.name)
	}
	return Response{
		Text:             text,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}
