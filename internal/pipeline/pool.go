package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/transport"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

const resultBuffer = 1024

// Pool runs N workers, each with its own receiver, and fans their events
// into one results channel.
type Pool struct {
	size int
	dial transport.Dialer
	opts WorkerOptions
	log  logrus.FieldLogger

	workers   []*Worker
	wg        sync.WaitGroup
	abort     chan struct{}
	abortOnce sync.Once
}

func NewPool(size int, dial transport.Dialer, log logrus.FieldLogger, opts WorkerOptions) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, dial: dial, opts: opts, log: logging.OrDiscard(log), abort: make(chan struct{})}
}

// Start opens one receiver per worker and launches the workers. The
// returned channel is closed after every worker has exited.
func (p *Pool) Start(ctx context.Context) (<-chan types.ResultEvent, error) {
	receivers := make([]transport.Receiver, 0, p.size)
	for i := 0; i < p.size; i++ {
		r, err := p.dial()
		if err != nil {
			for _, opened := range receivers {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open receiver %d: %w", i, err)
		}
		receivers = append(receivers, r)
	}

	results := make(chan types.ResultEvent, resultBuffer)
	p.workers = make([]*Worker, 0, p.size)
	for _, r := range receivers {
		w := NewWorker("receiver-"+xid.New().String(), r, results, p.log, p.opts)
		w.abort = p.abort
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func(w *Worker, r transport.Receiver) {
			defer p.wg.Done()
			defer func() {
				if err := r.Close(); err != nil {
					w.log.WithError(err).Warn("Closing receiver failed")
				}
			}()
			w.Run(ctx)
		}(w, r)
	}
	p.log.Infof("Started %d workers", p.size)

	go func() {
		p.wg.Wait()
		close(results)
	}()
	return results, nil
}

// Abort makes workers drop events instead of blocking on a results
// channel nobody reads. Call it once the consumer has stopped.
func (p *Pool) Abort() {
	p.abortOnce.Do(func() { close(p.abort) })
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats sums the worker counters. Only valid after Wait.
func (p *Pool) Stats() WorkerStats {
	var total WorkerStats
	for _, w := range p.workers {
		s := w.Stats()
		total.Messages += s.Messages
		total.Images += s.Images
		total.DataEvents += s.DataEvents
		total.DecodeErrors += s.DecodeErrors
		total.ReduceErrors += s.ReduceErrors
		total.UnknownTypes += s.UnknownTypes
		total.ReceiveErrors += s.ReceiveErrors
		total.Dropped += s.Dropped
	}
	return total
}
