package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// DefaultGeminiBaseURL is the default Gemini API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiBackend implements Backend for the Google Gemini API.
// It translates conversation turns to Gemini format and reads back the first candidate.
type GeminiBackend struct {
	cfg clientConfig
}

// NewGeminiBackend creates a GeminiBackend. The API key goes in the query string.
func NewGeminiBackend(opts ...ClientOption) *GeminiBackend {
	cfg := clientConfig{
		name:       "gemini",
		baseURL:    DefaultGeminiBaseURL,
		model:      "gemini-1.5-flash",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GeminiBackend{cfg: cfg}
}

// Send performs a generateContent request.
func (g *GeminiBackend) Send(ctx context.Context, messages []domain.ConversationTurn) (string, error) {
	geminiReq := mapToGeminiRequest(messages)

	model := mapModelName(g.cfg.model)
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.baseURL, model)
	if g.cfg.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.cfg.apiKey)
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.cfg.httpClient.Do(httpReq)
	if err != nil {
		return "", wrapTransport(g.cfg.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var geminiErr GeminiErrorResponse
		if err := json.Unmarshal(respBody, &geminiErr); err == nil && geminiErr.Error.Message != "" {
			return "", &StatusError{Backend: g.cfg.name, StatusCode: resp.StatusCode, Message: geminiErr.Error.Message}
		}
		return "", &StatusError{Backend: g.cfg.name, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal gemini response: %w", err)
	}

	return candidateText(geminiResp), nil
}

// mapToGeminiRequest converts conversation turns to Gemini format.
// Gemini has no system role; the system turn becomes systemInstruction.
func mapToGeminiRequest(messages []domain.ConversationTurn) GeminiRequest {
	req := GeminiRequest{
		Contents: make([]GeminiContent, 0, len(messages)),
	}

	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, msg.Content)
		case domain.RoleUser:
			req.Contents = append(req.Contents, GeminiContent{
				Role:  "user",
				Parts: []GeminiPart{{Text: msg.Content}},
			})
		case domain.RoleAssistant:
			req.Contents = append(req.Contents, GeminiContent{
				Role:  "model",
				Parts: []GeminiPart{{Text: msg.Content}},
			})
		}
	}

	if len(system) > 0 {
		req.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: strings.Join(system, "\n")}},
		}
	}

	return req
}

// candidateText joins the text parts of the first candidate.
func candidateText(resp GeminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// mapModelName converts OpenAI model names to Gemini equivalents.
func mapModelName(model string) string {
	modelMap := map[string]string{
		"gpt-4":              "gemini-1.5-pro",
		"gpt-4o":             "gemini-1.5-flash",
		"gpt-3.5-turbo":      "gemini-1.5-flash",
		"gpt-3.5-turbo-1106": "gemini-1.5-flash",
	}

	if mapped, ok := modelMap[model]; ok {
		return mapped
	}
	return model
}

// GeminiRequest represents a Gemini generateContent request.
type GeminiRequest struct {
	Contents          []GeminiContent `json:"contents"`
	SystemInstruction *GeminiContent  `json:"systemInstruction,omitempty"`
}

// GeminiContent represents a content block in Gemini format.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of a content block.
type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

// GeminiResponse represents a Gemini generateContent response.
type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
}

// GeminiCandidate represents a single generated candidate.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiErrorResponse represents an error response from Gemini API.
type GeminiErrorResponse struct {
	Error GeminiErrorDetail `json:"error"`
}

// GeminiErrorDetail contains error details.
type GeminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
