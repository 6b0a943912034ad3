package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/streambro/backend/internal/config"
)

// Broadcast lifecycle states reported by the platform
const (
	BroadcastStatusReady    = "ready"
	BroadcastStatusLive     = "live"
	BroadcastStatusComplete = "complete"
)

// Client is the interface to the external live-broadcast platform.
// Every call is fallible and retryable; a failure terminates a single
// launch attempt, never the orchestrator.
type Client interface {
	// CreateBroadcast creates a broadcast object on the target channel
	// and returns its external id.
	CreateBroadcast(ctx context.Context, channelID, title string, durationMinutes *int) (string, error)

	// GetBroadcastStatus returns the platform's view of a broadcast.
	GetBroadcastStatus(ctx context.Context, broadcastID string) (string, error)

	// TransitionBroadcast requests a broadcast state change (e.g. to
	// "complete" when a stream is stopped).
	TransitionBroadcast(ctx context.Context, broadcastID, status string) error
}

// HTTPClient talks to the platform's REST API
type HTTPClient struct {
	baseURL        string
	apiKey         string
	defaultChannel string
	client         *http.Client
}

// NewHTTPClient creates a platform client from configuration
func NewHTTPClient(cfg config.PlatformConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		defaultChannel: cfg.DefaultChannelID,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type createBroadcastRequest struct {
	ChannelID       string `json:"channel_id"`
	Title           string `json:"title"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

type broadcastResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateBroadcast creates a broadcast object on the platform
func (c *HTTPClient) CreateBroadcast(ctx context.Context, channelID, title string, durationMinutes *int) (string, error) {
	if channelID == "" {
		channelID = c.defaultChannel
	}

	body, err := json.Marshal(createBroadcastRequest{
		ChannelID:       channelID,
		Title:           title,
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal broadcast request: %w", err)
	}

	var resp broadcastResponse
	if err := c.do(ctx, http.MethodPost, "/v1/broadcasts", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("platform returned broadcast without id")
	}

	return resp.ID, nil
}

// GetBroadcastStatus returns the current broadcast state
func (c *HTTPClient) GetBroadcastStatus(ctx context.Context, broadcastID string) (string, error) {
	var resp broadcastResponse
	path := fmt.Sprintf("/v1/broadcasts/%s", broadcastID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// TransitionBroadcast requests a broadcast state change
func (c *HTTPClient) TransitionBroadcast(ctx context.Context, broadcastID, status string) error {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("failed to marshal transition request: %w", err)
	}

	path := fmt.Sprintf("/v1/broadcasts/%s/transition", broadcastID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create platform request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode platform response: %w", err)
		}
	}

	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// RetryDelay returns the capped exponential backoff delay before the
// given attempt (0-based).
func RetryDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base << attempt
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
