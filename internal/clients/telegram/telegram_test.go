package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-token", nil, zerolog.Nop())
	client.baseURL = server.URL
	client.httpClient = server.Client()
	return client
}

// TestClient_Send tests the happy path payload
func TestClient_Send(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		fmt.Fprint(w, `{"ok":true}`)
	})

	err := client.Send(context.Background(), "12345", "*WIF* retrace", "")
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotPayload["chat_id"])
	assert.Equal(t, "*WIF* retrace", gotPayload["text"])
	assert.Equal(t, "Markdown", gotPayload["parse_mode"])
}

// TestClient_Send_NoToken tests the unconfigured case
func TestClient_Send_NoToken(t *testing.T) {
	client := NewClient("", nil, zerolog.Nop())
	err := client.Send(context.Background(), "12345", "hello", "")
	assert.Error(t, err)
}

// TestClient_Send_RateLimited tests 429 classification
func TestClient_Send_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`)
	})

	err := client.Send(context.Background(), "12345", "hello", "")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Code)
	assert.Equal(t, 7, apiErr.RetryAfter)
	assert.True(t, IsTransient(err))
}

// TestClient_Send_BadRequest tests permanent failure classification
func TestClient_Send_BadRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
	})

	err := client.Send(context.Background(), "12345", "broken *markdown", "")
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Description, "can't parse entities")
}

// TestClient_Send_ServerError tests 5xx classification
func TestClient_Send_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Send(context.Background(), "12345", "hello", "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

// TestIsTransient_NetworkError tests that plain errors count as transient
func TestIsTransient_NetworkError(t *testing.T) {
	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.False(t, IsTransient(nil))
}

// TestEscapeMarkdown tests markup escaping
func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "WIF\\_USD", EscapeMarkdown("WIF_USD"))
	assert.Equal(t, "\\*bold\\*", EscapeMarkdown("*bold*"))
	assert.Equal(t, "\\[link\\]", EscapeMarkdown("[link]"))
	assert.Equal(t, "plain", EscapeMarkdown("plain"))
}
