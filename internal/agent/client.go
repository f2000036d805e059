package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 512

// Message is a role-tagged natural-language payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one candidate reply from the runtime.
type Choice struct {
	Index   int `json:"index"`
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Text returns the choice content, empty when the choice carries none.
func (c Choice) Text() string {
	if c.Message == nil {
		return ""
	}
	return c.Message.Content
}

// Response is the runtime reply to a Process call.
type Response struct {
	ID      string   `json:"id,omitempty"`
	Choices []Choice `json:"choices"`
}

// Processor interprets a conversation and returns candidate replies.
type Processor interface {
	Process(ctx context.Context, messages []Message) (Response, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	systemText string
	http       httpDoer
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(doer httpDoer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) {
		c.systemText = strings.TrimSpace(prompt)
	}
}

// NewClient constructs a Client for baseURL (without the /chat/completions
// suffix).
func NewClient(baseURL, apiKey, model string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("agent base url is required")
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Process sends messages to the runtime and returns its choices. The call is
// bounded by ctx.
func (c *Client) Process(ctx context.Context, messages []Message) (Response, error) {
	if len(messages) == 0 {
		return Response{}, errors.New("at least one message is required")
	}

	payload := struct {
		Model    string    `json:"model,omitempty"`
		Messages []Message `json:"messages"`
	}{
		Model:    c.model,
		Messages: messages,
	}
	if c.systemText != "" {
		payload.Messages = append([]Message{{Role: "system", Content: c.systemText}}, messages...)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return Response{}, fmt.Errorf("agent runtime error (status %d): %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}

	return out, nil
}
