package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RunResult is the code-execution service response.
type RunResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// Runner executes a snippet in the external sandbox service. Execution
// semantics are entirely its problem; room state never depends on it.
type Runner interface {
	Run(ctx context.Context, code, language string) (*RunResult, error)
}

// RunnerClient proxies to the code-execution service over HTTP.
type RunnerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRunnerClient(baseURL string) *RunnerClient {
	return &RunnerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RunnerClient) Run(ctx context.Context, code, language string) (*RunResult, error) {
	body, err := json.Marshal(map[string]string{
		"code":     code,
		"language": language,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d", resp.StatusCode)
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("runner response decode failed: %w", err)
	}
	return &result, nil
}
