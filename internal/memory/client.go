package memory

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

// Result is one scored recall hit from the live service.
type Result struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Client is the narrow contract this core consumes from the external
// memory service. Operations are scoped to a per-user namespace.
type Client interface {
	// FetchContext returns the serialized context block for basic/summarized modes.
	FetchContext(ctx context.Context, userID uint64, mode Mode) (string, error)
	// Search runs a similarity or graph query against the user's memories.
	Search(ctx context.Context, userID uint64, query string, mode Mode, topK int) ([]Result, error)
	// AppendTurn records a completed user/assistant exchange.
	AppendTurn(ctx context.Context, userID uint64, sessionID, userMsg, assistantMsg string) error
}

// HTTPClient talks JSON to the memory service.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2*1024))
		return fmt.Errorf("memory service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) FetchContext(ctx context.Context, userID uint64, mode Mode) (string, error) {
	var out struct {
		Context string `json:"context"`
	}
	path := fmt.Sprintf("/users/%d/context?mode=%s", userID, mode)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Context, nil
}

func (c *HTTPClient) Search(ctx context.Context, userID uint64, query string, mode Mode, topK int) ([]Result, error) {
	in := map[string]any{"query": query, "mode": string(mode), "top_k": topK}
	var out struct {
		Results []Result `json:"results"`
	}
	path := fmt.Sprintf("/users/%d/search", userID)
	if err := c.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *HTTPClient) AppendTurn(ctx context.Context, userID uint64, sessionID, userMsg, assistantMsg string) error {
	in := map[string]any{
		"session_id": sessionID,
		"messages": []map[string]string{
			{"role": "user", "content": userMsg},
			{"role": "assistant", "content": assistantMsg},
		},
	}
	path := fmt.Sprintf("/users/%d/turns", userID)
	return c.do(ctx, http.MethodPost, path, in, nil)
}
