package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ToolAPIExecutor invokes an external tool API over HTTP:
// POST {base}/execute {"input": ...} -> {"success": bool, "result": ..., "error": ...}.
type ToolAPIExecutor struct {
	baseURL    string
	httpClient *http.Client
}

// NewToolAPIExecutor creates an executor for the tool API at baseURL. The
// HTTP client carries no timeout of its own; the per-job execution context
// bounds each call.
func NewToolAPIExecutor(baseURL string) *ToolAPIExecutor {
	return &ToolAPIExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type toolResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error"`
}

func (e *ToolAPIExecutor) Execute(ctx context.Context, input map[string]any) (any, error) {
	raw, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("execution timed out")
		}
		return nil, fmt.Errorf("call tool api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("tool api status %d", resp.StatusCode)
	}

	var tr toolResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode tool response: %w", err)
	}
	if !tr.Success {
		if tr.Error == "" {
			tr.Error = "unknown error"
		}
		return nil, errors.New(tr.Error)
	}
	return tr.Result, nil
}

// Health checks the tool API's /health endpoint. Failures are advisory; the
// worker starts regardless.
func (e *ToolAPIExecutor) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tool api health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tool api health: status %d", resp.StatusCode)
	}
	return nil
}
