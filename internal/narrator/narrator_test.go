package narrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/model"
)

func generationServer(t *testing.T, text string, calls *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testWaypoint() *model.Waypoint {
	return &model.Waypoint{
		ID:            4,
		RouteID:       3,
		Name:          "Main Hall",
		Description:   "The central exhibition space.",
		SequenceOrder: 2,
	}
}

func TestNarrate_MemoizesPerWaypoint(t *testing.T) {
	var calls int32
	srv := generationServer(t, "Welcome to the Main Hall, heart of the museum.", &calls)

	n := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, NewMemoryCache())

	wp := testWaypoint()
	first := n.Narrate(context.Background(), "Highlights", wp)
	second := n.Narrate(context.Background(), "Highlights", wp)

	assert.Equal(t, "Welcome to the Main Hall, heart of the museum.", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit must not re-call the API")
}

func TestNarrate_EditedWaypointMissesCache(t *testing.T) {
	var calls int32
	srv := generationServer(t, "Some narration.", &calls)

	n := New(Config{APIKey: "test-key", BaseURL: srv.URL}, NewMemoryCache())

	wp := testWaypoint()
	n.Narrate(context.Background(), "Highlights", wp)
	wp.Description = "Recently rehung with modern works."
	n.Narrate(context.Background(), "Highlights", wp)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNarrate_FallsBackToDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := New(Config{APIKey: "test-key", BaseURL: srv.URL}, NewMemoryCache())

	wp := testWaypoint()
	got := n.Narrate(context.Background(), "Highlights", wp)
	assert.Equal(t, wp.Description, got)
}

func TestNarrate_NoKeyUsesTemplateFallback(t *testing.T) {
	n := New(Config{}, NewMemoryCache())

	wp := testWaypoint()
	wp.Description = ""
	got := n.Narrate(context.Background(), "Highlights", wp)
	assert.Contains(t, got, "Main Hall")
}

func TestNarrateAll_PreservesOrder(t *testing.T) {
	var calls int32
	srv := generationServer(t, "Narration.", &calls)

	n := New(Config{APIKey: "test-key", BaseURL: srv.URL}, NewMemoryCache())

	wps := []*model.Waypoint{
		{ID: 1, RouteID: 3, Name: "Entrance", SequenceOrder: 1},
		{ID: 2, RouteID: 3, Name: "Main Hall", SequenceOrder: 2},
		{ID: 3, RouteID: 3, Name: "Gift Shop", SequenceOrder: 3},
	}
	out := n.NarrateAll(context.Background(), "Highlights", wps)
	require.Len(t, out, 3)
	for _, text := range out {
		assert.NotEmpty(t, text)
	}
}
