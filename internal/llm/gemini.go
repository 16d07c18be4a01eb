package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
)

// GeminiBaseURL is the Generative Language API root
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini is the transport for generateContent
type Gemini struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGemini creates a Gemini transport
func NewGemini(baseURL, apiKey string, client *http.Client) *Gemini {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Gemini{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// Name implements Provider
func (g *Gemini) Name() string { return ProviderGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete implements Provider
func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, errors.Wrap(errors.KindInternal, err, "failed to encode request")
	}
	endpoint := g.baseURL + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, errors.Wrap(errors.KindInternal, err, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, errors.Retryable(errors.KindLLMTransport, err, "gemini request failed")
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		var gerr *googleapi.Error
		if stderrors.As(err, &gerr) {
			msg := gerr.Message
			if msg == "" {
				msg = gerr.Body
			}
			return Response{}, statusError(ProviderGemini, gerr.Code, msg)
		}
		return Response{}, errors.Retryable(errors.KindLLMTransport, err, "gemini request failed")
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, errors.Retryable(errors.KindLLMTransport, err, "gemini returned malformed JSON")
	}

	var b strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return Response{}, emptyContent(ProviderGemini)
	}
	return Response{
		Text:             text,
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}
