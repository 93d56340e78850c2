package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LocalClient calls an Ollama-compatible chat endpoint
// ({endpoint}/api/chat) so the pipeline can run against a local model.
type LocalClient struct {
	http     *http.Client
	endpoint string
}

func NewLocalClient(endpoint string) (*LocalClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("local llm endpoint is required")
	}
	return &LocalClient{
		// Per-call deadlines come from the context; no client-level timeout.
		http:     &http.Client{},
		endpoint: endpoint,
	}, nil
}

func (c *LocalClient) Name() string { return "local" }
func (c *LocalClient) Close() error { return nil }

type localChatReq struct {
	Model       string         `json:"model"`
	Messages    []localMessage `json:"messages"`
	Temperature float32        `json:"temperature"`
	Stream      bool           `json:"stream"`
}
type localMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type localChatResp struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *LocalClient) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	reqBody := localChatReq{
		Model:       p.Model,
		Messages:    []localMessage{{Role: "user", Content: prompt}},
		Temperature: p.Temperature,
		Stream:      false,
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := fmt.Errorf("local llm: unexpected status %s: %s", resp.Status, string(body))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", &UnavailableError{Auth: true, Err: statusErr}
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", &RateLimitError{Err: statusErr}
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
			return "", &TimeoutError{Err: statusErr}
		default:
			return "", &UnavailableError{Err: statusErr}
		}
	}

	var out localChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("local llm: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func wrapTransportError(err error) error {
	if wrapped := wrapCallError(err); wrapped != err {
		return wrapped
	}
	return &UnavailableError{Err: err}
}
