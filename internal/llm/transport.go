package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
)

// maxErrorBody bounds how much of an error response is kept in messages
const maxErrorBody = 512

// NewHTTPClient returns the client shared by all provider transports. Per-call
// deadlines come from the request context, not the client.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// postJSON sends body to url and decodes a 2xx JSON response into out
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Retryable(errors.KindLLMTransport, err, provider+" request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(provider, resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Retryable(errors.KindLLMTransport, err, provider+" returned malformed JSON")
	}
	return nil
}

// statusError classifies an HTTP failure: 429 and 5xx are transient, any
// other status will not improve on retry.
func statusError(provider string, code int, body string) error {
	msg := fmt.Sprintf("%s returned HTTP %d: %s", provider, code, strings.TrimSpace(body))
	switch {
	case code == http.StatusTooManyRequests:
		return errors.Retryable(errors.KindLLMRateLimited, nil, msg)
	case code >= 500, code == http.StatusRequestTimeout:
		return errors.Retryable(errors.KindLLMTransport, nil, msg)
	default:
		return errors.Newf(errors.KindLLMTransport, "%s", msg)
	}
}

func emptyContent(provider string) error {
	return errors.Retryable(errors.KindLLMContentEmpty, nil, provider+" returned an empty completion")
}
