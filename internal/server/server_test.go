package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/config"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

func TestHandleConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 9999
	srv := New(cfg, NewHub(3, 4, []string{"1", "2", "3"}), nil, nil)

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)
	require.Equal(t, 200, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, float64(3), payload["grid_x"])
	assert.Equal(t, float64(4), payload["grid_y"])
	assert.Equal(t, float64(9999), payload["port"])
	assert.Equal(t, []any{"1", "2", "3"}, payload["thresholds"])
	assert.Equal(t, "tcp://localhost:31001", payload["endpoint"])
}

func TestHandleStatus(t *testing.T) {
	hub := NewHub(2, 1, nil)
	hub.Update("t0", 0, 4)
	hub.Update("t0", 1, 8)
	hub.Refresh()

	srv := New(config.Default(), hub, func() map[string]any {
		return map[string]any{"stream": "receiving"}
	}, nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "receiving", payload["stream"])
	assert.Equal(t, float64(0), payload["ws_clients"])
	assert.Equal(t, float64(1), payload["ui_refreshes_total"])
	stats := payload["image_stats"].(map[string]any)["t0"].(map[string]any)
	assert.Equal(t, float64(4), stats["min"])
	assert.Equal(t, float64(8), stats["max"])
	assert.Equal(t, float64(6), stats["mean"])
}

func TestHealthz(t *testing.T) {
	srv := New(config.Default(), NewHub(1, 1, nil), nil, nil)
	handler, err := srv.Handler()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "STXM realtime map")
}

func TestWebsocketReceivesConfigAndSnapshots(t *testing.T) {
	hub := NewHub(2, 2, []string{"threshold_0"})
	srv := New(config.Default(), hub, nil, nil)
	handler, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var cfg map[string]any
	require.NoError(t, conn.ReadJSON(&cfg))
	assert.Equal(t, "config", cfg["type"])
	assert.Equal(t, []any{"threshold_0"}, cfg["thresholds"])

	hub.Update("threshold_0", 3, 42)
	hub.Refresh()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "snapshot_request"}))

	var snap map[string]any
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap["type"])
	data := snap["data"].(map[string]any)["threshold_0"].(map[string]any)
	assert.Equal(t, []any{float64(0), float64(0), float64(0), float64(42)}, data["values"])
	assert.Equal(t, []any{false, false, false, true}, data["mask"])
}

func TestHubResetAndBounds(t *testing.T) {
	hub := NewHub(2, 2, []string{"threshold_0"})
	hub.Update("t0", 4, 1)
	hub.Update("t0", -1, 1)
	hub.Refresh()
	_, ok := hub.Snapshot()
	assert.False(t, ok)

	hub.Update("t1", 0, 5)
	hub.Refresh()
	snap, ok := hub.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint32(5), snap.Data["t1"].Values[0])
	assert.Equal(t, []string{"t1"}, hub.Config().Thresholds)

	hub.Reset(3, 3)
	_, ok = hub.Snapshot()
	assert.False(t, ok)
	cfg := hub.Config()
	assert.Equal(t, 3, cfg.GridX)
	assert.Equal(t, []string{"threshold_0"}, cfg.Thresholds)

	first, ok := (<-hub.Messages()).(types.UISnapshot)
	require.True(t, ok)
	assert.Equal(t, "snapshot", first.Type)
	reset, ok := (<-hub.Messages()).(types.UIConfig)
	require.True(t, ok)
	assert.Equal(t, 3, reset.GridY)
}
