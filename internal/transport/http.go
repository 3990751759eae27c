// Package transport invokes capabilities on worker endpoints. The control
// plane never retries an invocation against a different worker; a failure is
// surfaced to the caller, whose retry policy applies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"capway/internal/model"
)

// Invoker calls a capability on a specific worker.
type Invoker interface {
	Invoke(ctx context.Context, worker *model.WorkerEndpoint, verb, capability string, payload json.RawMessage) (json.RawMessage, error)
}

// HTTPInvoker posts invocation payloads to the worker's HTTP endpoint.
type HTTPInvoker struct {
	httpClient *http.Client
}

// NewHTTPInvoker creates an invoker with the given per-call timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Invoke posts payload to <address>/invoke/<verb>/<capability> and returns
// the response body. Context cancellation aborts the request.
func (c *HTTPInvoker) Invoke(ctx context.Context, worker *model.WorkerEndpoint, verb, capability string, payload json.RawMessage) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/invoke/%s/%s", worker.Address, verb, capability)

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker %s unreachable: %w", worker.ID, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker %s returned status %d: %s", worker.ID, resp.StatusCode, truncate(respData, 200))
	}

	return respData, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
