package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/simulator"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/transport"
)

type metaRecord struct {
	runID string
	kind  string
	meta  map[string]any
}

type runStore struct {
	meta   []metaRecord
	series map[string]map[string]int
	order  []string
}

func (s *runStore) WriteMetadata(runID, kind string, meta map[string]any) error {
	s.meta = append(s.meta, metaRecord{runID, kind, meta})
	return nil
}

func (s *runStore) WriteSeries(runID string, _, _ int, data map[string]*processing.ThresholdData) error {
	rows := make(map[string]int, len(data))
	for name, td := range data {
		rows[name] = td.Present()
	}
	s.series[runID] = rows
	s.order = append(s.order, runID)
	return nil
}

func TestSimulatedScansKeepSeriesApart(t *testing.T) {
	const gridX, gridY, scans = 8, 8, 3

	sim, err := simulator.New(simulator.Config{
		GridX:     gridX,
		GridY:     gridY,
		Scans:     scans,
		FrameRows: 4,
		FrameCols: 4,
		Seed:      7,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed := make(chan []byte, 16)
	simDone := make(chan error, 1)
	go func() { simDone <- sim.Run(ctx, feed) }()

	pool := NewPool(1, transport.ChanDialer(feed, 5*time.Millisecond), nil, WorkerOptions{})
	results, err := pool.Start(ctx)
	require.NoError(t, err)

	store := &runStore{series: map[string]map[string]int{}}
	agg := processing.NewAggregator(gridX, gridY, store, nil, processing.Options{})
	agg.Run(ctx, results)
	pool.Wait()
	require.NoError(t, <-simDone)

	require.Len(t, store.order, scans)
	for _, runID := range store.order {
		rows := store.series[runID]
		for _, name := range simulator.Thresholds {
			assert.Equal(t, gridX*gridY, rows[name], "run %s threshold %s", runID, name)
		}
	}

	starts := map[string]any{}
	ends := map[string]any{}
	for _, rec := range store.meta {
		switch rec.kind {
		case "start":
			starts[rec.runID] = rec.meta["series_id"]
		case "end":
			ends[rec.runID] = rec.meta["series_id"]
		}
	}
	require.Len(t, starts, scans)
	require.Len(t, ends, scans)
	for runID, id := range starts {
		assert.Equal(t, id, ends[runID], "run %s", runID)
	}
	assert.Equal(t, scans*gridX*gridY, agg.Stats().TotalFrames)
}
