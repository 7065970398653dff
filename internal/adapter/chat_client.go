package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

const (
	// DefaultOpenAIBaseURL is the official chat completions endpoint root.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the model requested from the official API.
	DefaultOpenAIModel = "gpt-3.5-turbo-1106"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 1 << 16
)

// clientConfig is shared by the HTTP backends.
type clientConfig struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring HTTP backends.
type ClientOption func(*clientConfig)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithModel sets the requested model.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAPIKey sets the credential sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithName sets the backend label used in errors.
func WithName(name string) ClientOption {
	return func(c *clientConfig) {
		c.name = name
	}
}

// ChatClient implements Backend for OpenAI-compatible /chat/completions endpoints.
// The credential, when set, is sent as a Bearer token.
type ChatClient struct {
	cfg clientConfig
}

// NewChatClient creates a ChatClient. Timeouts come from the caller's context.
func NewChatClient(opts ...ClientOption) *ChatClient {
	cfg := clientConfig{
		name:       "openai",
		baseURL:    DefaultOpenAIBaseURL,
		model:      DefaultOpenAIModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ChatClient{cfg: cfg}
}

// Send performs one chat completion and returns the first choice's content.
func (c *ChatClient) Send(ctx context.Context, messages []domain.ConversationTurn) (string, error) {
	req := OpenAIRequest{
		Model:    c.cfg.model,
		Messages: toOpenAIMessages(messages),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s request: %w", c.cfg.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.apiKey)
	}

	resp, err := c.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", wrapTransport(c.cfg.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readStatusError(c.cfg.name, resp)
	}

	var chatResp OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode %s response: %w", c.cfg.name, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", nil
	}
	return chatResp.Choices[0].Message.Content, nil
}

// toOpenAIMessages converts turns to the wire format.
func toOpenAIMessages(messages []domain.ConversationTurn) []OpenAIMessage {
	out := make([]OpenAIMessage, len(messages))
	for i, m := range messages {
		out[i] = OpenAIMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// readStatusError builds a StatusError from a non-200 response.
func readStatusError(backend string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr OpenAIError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &StatusError{Backend: backend, StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &StatusError{Backend: backend, StatusCode: resp.StatusCode, Message: msg}
}
