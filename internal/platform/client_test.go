package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streambro/backend/internal/config"
)

func newTestClient(baseURL string) *HTTPClient {
	return NewHTTPClient(config.PlatformConfig{
		BaseURL:          baseURL,
		APIKey:           "test-key",
		Timeout:          5 * time.Second,
		DefaultChannelID: "default-channel",
	})
}

func TestCreateBroadcast(t *testing.T) {
	var gotReq createBroadcastRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/broadcasts", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(broadcastResponse{ID: "bc-123", Status: BroadcastStatusReady})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	duration := 60

	id, err := client.CreateBroadcast(context.Background(), "chan-1", "Morning Show", &duration)
	require.NoError(t, err)
	assert.Equal(t, "bc-123", id)
	assert.Equal(t, "chan-1", gotReq.ChannelID)
	assert.Equal(t, "Morning Show", gotReq.Title)
	require.NotNil(t, gotReq.DurationMinutes)
	assert.Equal(t, 60, *gotReq.DurationMinutes)
}

func TestCreateBroadcastDefaultChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createBroadcastRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "default-channel", req.ChannelID)
		json.NewEncoder(w).Encode(broadcastResponse{ID: "bc-456"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	id, err := client.CreateBroadcast(context.Background(), "", "Untargeted", nil)
	require.NoError(t, err)
	assert.Equal(t, "bc-456", id)
}

func TestCreateBroadcastServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateBroadcast(context.Background(), "chan-1", "Failing", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGetBroadcastStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/broadcasts/bc-123", r.URL.Path)
		json.NewEncoder(w).Encode(broadcastResponse{ID: "bc-123", Status: BroadcastStatusComplete})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	status, err := client.GetBroadcastStatus(context.Background(), "bc-123")
	require.NoError(t, err)
	assert.Equal(t, BroadcastStatusComplete, status)
}

func TestTransitionBroadcast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/broadcasts/bc-123/transition", r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, BroadcastStatusComplete, body["status"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.TransitionBroadcast(context.Background(), "bc-123", BroadcastStatusComplete)
	assert.NoError(t, err)
}

func TestRetryDelay(t *testing.T) {
	base := 2 * time.Second
	cap := 30 * time.Second

	assert.Equal(t, 2*time.Second, RetryDelay(0, base, cap))
	assert.Equal(t, 4*time.Second, RetryDelay(1, base, cap))
	assert.Equal(t, 8*time.Second, RetryDelay(2, base, cap))
	// Capped once the exponential curve passes the ceiling
	assert.Equal(t, 30*time.Second, RetryDelay(4, base, cap))
	assert.Equal(t, 30*time.Second, RetryDelay(40, base, cap))
}
