package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAdapter executes a task by POSTing it to a remote endpoint and
// decoding a TaskResult-shaped JSON body back, grounded on the teacher
// ai package's HTTP-client-with-timeout style (ai/client.go).
type HTTPAdapter struct {
	name         string
	description  string
	capabilities []string
	url          string
	headers      map[string]string
	httpClient   *http.Client
}

// NewHTTPAdapter builds an HTTPAdapter posting to url with the default 60s
// timeout.
func NewHTTPAdapter(name, url string, opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		name:       name,
		url:        url,
		headers:    map[string]string{},
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type HTTPOption func(*HTTPAdapter)

func WithHTTPDescription(d string) HTTPOption {
	return func(a *HTTPAdapter) { a.description = d }
}

func WithHTTPCapabilities(caps ...string) HTTPOption {
	return func(a *HTTPAdapter) { a.capabilities = caps }
}

func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) {
		if d > 0 {
			a.httpClient.Timeout = d
		}
	}
}

func WithHTTPHeader(key, value string) HTTPOption {
	return func(a *HTTPAdapter) { a.headers[key] = value }
}

func (a *HTTPAdapter) Name() string         { return a.name }
func (a *HTTPAdapter) Type() string          { return "http" }
func (a *HTTPAdapter) Description() string   { return a.description }
func (a *HTTPAdapter) Capabilities() []string { return a.capabilities }

type httpTaskPayload struct {
	Task string `json:"task"`
}

// Execute posts {"task": task} and expects back a TaskResult-shaped body.
// The request is bound to the adapter's http.Client timeout via context —
// on expiry the underlying transport aborts the in-flight connection
// (spec §5: "implemented as a race with an abort signal (HTTP)").
func (a *HTTPAdapter) Execute(ctx context.Context, task string) (*TaskResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.httpClient.Timeout)
	defer cancel()

	body, err := json.Marshal(httpTaskPayload{Task: task})
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &TaskResult{
				Status:   StatusTimeout,
				Output:   fmt.Sprintf("request timed out after %s", a.httpClient.Timeout),
				Metadata: map[string]interface{}{"durationMs": time.Since(start).Milliseconds()},
			}, nil
		}
		return &TaskResult{
			Status:   StatusError,
			Output:   err.Error(),
			Metadata: map[string]interface{}{"durationMs": time.Since(start).Milliseconds()},
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TaskResult{Status: StatusError, Output: err.Error()}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return &TaskResult{
			Status:   StatusError,
			Output:   fmt.Sprintf("agent endpoint returned %d: %s", resp.StatusCode, string(respBody)),
			Metadata: map[string]interface{}{"durationMs": time.Since(start).Milliseconds()},
		}, nil
	}

	var result TaskResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Treat a bare-string response as a successful plain-text output.
		result = TaskResult{Status: StatusOK, Output: string(respBody)}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["durationMs"] = time.Since(start).Milliseconds()
	return &result, nil
}
