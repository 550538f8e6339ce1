package work

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) (*Registry, chi.Router) {
	registry := NewRegistry()
	processor := newTestProcessor(t, registry)

	router := chi.NewRouter()
	NewHandlers(processor, registry).RegisterRoutes(router)
	return registry, router
}

// TestHandlers_ListWorkTypes tests the /api/work/types listing
func TestHandlers_ListWorkTypes(t *testing.T) {
	registry, router := newTestHandlers(t)
	registry.Register(&WorkType{ID: "coin:metadata", Priority: PriorityLow, Interval: time.Hour})
	registry.Register(&WorkType{ID: "coin:backfill", Priority: PriorityHigh})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work/types", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var types []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types))
	require.Len(t, types, 2)

	assert.Equal(t, "coin:backfill", types[0]["id"])
	assert.Equal(t, "High", types[0]["priority"])
	assert.Equal(t, "coin:metadata", types[1]["id"])
	assert.Equal(t, "1h0m0s", types[1]["interval"])
}

// TestHandlers_Execute tests the manual execution endpoints
func TestHandlers_Execute(t *testing.T) {
	registry, router := newTestHandlers(t)

	var subjects []string
	registry.Register(&WorkType{
		ID:       "coin:backfill",
		Priority: PriorityHigh,
		Execute: func(ctx context.Context, subject string) error {
			subjects = append(subjects, subject)
			return nil
		},
	})

	t.Run("global", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/coin:backfill/execute", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"completed"}`, rec.Body.String())
		assert.Equal(t, []string{""}, subjects)
	})

	t.Run("with subject", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/coin:backfill/7/execute", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"", "7"}, subjects)
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/nope/execute", nil))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown work type")
	})
}

// TestHandlers_Trigger tests the processor wake-up endpoint
func TestHandlers_Trigger(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/trigger", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"triggered"}`, rec.Body.String())
}
