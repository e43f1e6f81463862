package simplon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPaths(t *testing.T) {
	assert.Equal(t, []string{
		"http://det/detector/api/1.8.0/status/state",
		"http://det/api/1.8.0/detector/status/state",
		"http://det/detector/status/state",
	}, BuildPaths("http://det/", "1.8.0", "detector", "status", "state"))
	assert.Equal(t, []string{"http://det/stream/status/state"}, BuildPaths("http://det", "", "stream", "status", "state"))
	assert.Nil(t, BuildPaths("", "1.8.0", "detector", "status", "state"))
}

func TestExtractState(t *testing.T) {
	state, ok := extractState([]byte(`{"value": "Ready", "value_type": "string"}`))
	require.True(t, ok)
	assert.Equal(t, "ready", state)

	state, ok = extractState([]byte(`[{"status": {"state": "ACQUIRE"}}]`))
	require.True(t, ok)
	assert.Equal(t, "acquire", state)

	_, ok = extractState([]byte(`{"other": 1}`))
	assert.False(t, ok)
	_, ok = extractState([]byte(`not json`))
	assert.False(t, ok)
}

func TestFetchFallsBackAcrossPaths(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/detector/api/1.8.0/status/state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":"idle"}`))
	})
	mux.HandleFunc("/api/1.8.0/stream/status/state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":"ready"}`))
	})
	mux.HandleFunc("/filewriter/status/state", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	status := NewPoller(ts.URL, "1.8.0", time.Second, nil).Fetch(context.Background())
	assert.Equal(t, "idle", status.Detector)
	assert.Equal(t, "ready", status.Stream)
	assert.Equal(t, "http_503", status.Filewriter)
	assert.Equal(t, "http_404", status.Monitor)
}

func TestPollStopsOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":"ready"}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan Status, 8)
	done := make(chan struct{})
	go func() {
		NewPoller(ts.URL, "1.8.0", 10*time.Millisecond, nil).Poll(ctx, func(s Status) {
			select {
			case updates <- s:
			default:
			}
		})
		close(done)
	}()

	first := <-updates
	assert.Equal(t, "ready", first.Detector)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
