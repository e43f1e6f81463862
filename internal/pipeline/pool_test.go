package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/transport"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

func processingReducer(f func(any) (uint32, bool, error)) processing.Reducer {
	return processing.ReducerFunc(f)
}

func TestPoolFrameCountConservation(t *testing.T) {
	const images = 40
	in := make(chan []byte, images+2)
	in <- startMsg(t)
	for id := 0; id < images; id++ {
		in <- imageMsg(t, id, map[string][]byte{"t0": {0, 0, 0, 255}, "t1": {0, 0, 0, 0}})
	}
	close(in)

	pool := NewPool(4, transport.ChanDialer(in, 5*time.Millisecond), nil, WorkerOptions{})
	results, err := pool.Start(context.Background())
	require.NoError(t, err)

	var frames, data, starts int
	ids := map[string]bool{}
	for ev := range results {
		switch ev.Type {
		case types.EventFrameCount:
			frames += ev.Count
			ids[ev.WorkerID] = true
			assert.True(t, strings.HasPrefix(ev.WorkerID, "receiver-"))
		case types.EventData:
			data++
		case types.EventStart:
			starts++
		}
	}
	assert.Equal(t, images, frames)
	assert.Equal(t, 2*images, data)
	assert.Equal(t, 1, starts)
	assert.Equal(t, uint64(images), pool.Stats().Images)
}

func TestPoolStopsOnCancel(t *testing.T) {
	in := make(chan []byte)
	pool := NewPool(3, transport.ChanDialer(in, 5*time.Millisecond), nil, WorkerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	results, err := pool.Start(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-results:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("results channel was not closed")
	}
}

type closeCounter struct {
	transport.Receiver
	closed *int
}

func (c closeCounter) Close() error {
	*c.closed++
	return nil
}

func TestPoolDialFailureClosesOpened(t *testing.T) {
	var dials, closed int
	dial := func() (transport.Receiver, error) {
		dials++
		if dials == 3 {
			return nil, errors.New("connection refused")
		}
		return closeCounter{Receiver: transport.NewChanReceiver(nil, time.Millisecond), closed: &closed}, nil
	}
	_, err := NewPool(4, dial, nil, WorkerOptions{}).Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, closed)
}

func TestPoolAbortUnblocksWorkers(t *testing.T) {
	const images = 700
	in := make(chan []byte, images)
	for id := 0; id < images; id++ {
		in <- imageMsg(t, id, map[string][]byte{"t0": {0, 0, 0, 0}, "t1": {0, 0, 0, 0}})
	}
	close(in)

	pool := NewPool(2, transport.ChanDialer(in, 5*time.Millisecond), nil, WorkerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := pool.Start(ctx)
	require.NoError(t, err)
	cancel()
	pool.Abort()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after abort")
	}
	pool.Abort()
}
