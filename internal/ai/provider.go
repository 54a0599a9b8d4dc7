package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request is one chat-completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is the chat-completion capability the classifier, clusterer,
// and composer are built on.
type Provider interface {
	// Complete returns the model's text response for the request.
	Complete(ctx context.Context, req Request) (string, error)

	// Model identifies the model verdicts should record.
	Model() string
}

// ChatClient is a Provider backed by an OpenAI-compatible chat
// completions endpoint.
type ChatClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ Provider = (*ChatClient)(nil)

// NewChatClient builds a client. The endpoint must be a full chat
// completions URL; apiKey may be empty for local endpoints.
func NewChatClient(endpoint, model, apiKey string) *ChatClient {
	return &ChatClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		// No client-level timeout: callers bound each call via ctx.
		httpClient: &http.Client{},
	}
}

// Model returns the configured model identifier.
func (c *ChatClient) Model() string { return c.model }

// Complete posts the request as a chat completion and returns the first
// choice's message content.
func (c *ChatClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("ai: chat client misconfigured")
	}

	messages := []map[string]string{}
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ai: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ai: complete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ai: provider error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// StripFences removes a surrounding markdown code fence from a model
// response, tolerating a language tag on the opening fence. Models
// asked for strict JSON still wrap it in ``` often enough that every
// JSON consumer in this package runs responses through it.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
