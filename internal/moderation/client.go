package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/domain"
)

// DefaultEndpoint is the official moderation endpoint.
const DefaultEndpoint = "https://api.openai.com/v1/moderations"

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged    bool            `json:"flagged"`
	Categories map[string]bool `json:"categories"`
}

// Client performs one moderation request per call.
type Client struct {
	endpoint   string
	keyPrefix  string
	httpClient *http.Client
}

// NewClient creates a Client. keyPrefix is prepended to every credential.
func NewClient(endpoint, keyPrefix string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: endpoint, keyPrefix: keyPrefix, httpClient: httpClient}
}

// Classify sends text with key and returns the first result.
// Non-200 answers come back as *adapter.StatusError.
func (c *Client) Classify(ctx context.Context, key, text string) (domain.ModerationVerdict, error) {
	body, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("failed to marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.keyPrefix+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("moderation request: %w: %v", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return domain.ModerationVerdict{}, &adapter.StatusError{
			Backend:    "moderation",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var parsed moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("failed to decode moderation response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return domain.ModerationVerdict{}, fmt.Errorf("moderation response has no results")
	}

	return toVerdict(parsed.Results[0]), nil
}

func toVerdict(r moderationResult) domain.ModerationVerdict {
	v := domain.ModerationVerdict{Flagged: r.Flagged}
	for name, hit := range r.Categories {
		if hit {
			v.Categories = append(v.Categories, name)
		}
	}
	sort.Strings(v.Categories)
	return v
}
