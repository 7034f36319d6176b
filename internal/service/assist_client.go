package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrAssistDisabled = errors.New("assist service not configured")

// Assistant returns a suggestion for a prompt. Decoupled from room state.
type Assistant interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// AssistClient proxies to the external suggestion service over HTTP.
// An empty base URL disables it.
type AssistClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAssistClient(baseURL string) *AssistClient {
	return &AssistClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *AssistClient) Suggest(ctx context.Context, prompt string) (string, error) {
	if c.baseURL == "" {
		return "", ErrAssistDisabled
	}

	body, err := json.Marshal(map[string]string{"message": prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assist returned status %d", resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("assist response decode failed: %w", err)
	}
	return out.Response, nil
}
