package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRunner executes http tools by POSTing the inputs as JSON to the tool's
// URL (the path field). A JSON object response becomes the output map;
// anything else is wrapped as {"output": body}.
type HTTPRunner struct {
	client *http.Client
}

// NewHTTPRunner creates a runner with a 60 second request timeout.
func NewHTTPRunner() *HTTPRunner {
	return &HTTPRunner{client: &http.Client{Timeout: 60 * time.Second}}
}

// WithClient overrides the HTTP client; tests point it at a local server.
func (r *HTTPRunner) WithClient(client *http.Client) *HTTPRunner {
	r.client = client
	return r
}

// Execute implements Runner.
func (r *HTTPRunner) Execute(ctx context.Context, def Def, inputs map[string]any) (map[string]any, error) {
	if def.Path == "" {
		return nil, fmt.Errorf("tool %s has no url specified", def.ID)
	}

	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode inputs: %w", def.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", def.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", def.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("tool %s: read response: %w", def.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %s: %s: %s", def.ID, resp.Status, strings.TrimSpace(string(body)))
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err == nil {
		return result, nil
	}
	return map[string]any{"output": strings.TrimSpace(string(body))}, nil
}
