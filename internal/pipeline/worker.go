// Package pipeline runs the decode/reduce workers between the transport
// and the aggregator.
package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/transport"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

type WorkerOptions struct {
	// Decoder defaults to one backed by the compression package.
	Decoder *ingest.Decoder
	// Reducer defaults to processing.SaturationCount.
	Reducer processing.Reducer
	// LogEvery samples decode and receive errors.
	LogEvery int
	// SummaryInterval emits a debug summary every N images; 0 disables it.
	SummaryInterval int
	// ExtraDebug logs every message.
	ExtraDebug bool
}

// WorkerStats counts what one worker has seen over its lifetime.
type WorkerStats struct {
	Messages      uint64
	Images        uint64
	DataEvents    uint64
	DecodeErrors  uint64
	ReduceErrors  uint64
	UnknownTypes  uint64
	ReceiveErrors uint64
	// Dropped counts events discarded after the pool was aborted.
	Dropped       uint64
}

// Worker owns one receiver and a local frame counter. It shares nothing
// with other workers; its only output is the results channel.
type Worker struct {
	id      string
	recv    transport.Receiver
	out     chan<- types.ResultEvent
	abort   <-chan struct{}
	dec     *ingest.Decoder
	reducer processing.Reducer
	log     logrus.FieldLogger

	decodeErrs *logging.Sampler
	recvErrs   *logging.Sampler
	unknown    *logging.Sampler
	summary    int
	extraDebug bool

	frames int
	stats  WorkerStats
}

func NewWorker(id string, recv transport.Receiver, out chan<- types.ResultEvent, log logrus.FieldLogger, opts WorkerOptions) *Worker {
	if opts.Decoder == nil {
		opts.Decoder = ingest.NewDecoder(nil)
	}
	if opts.Reducer == nil {
		opts.Reducer = processing.SaturationCount
	}
	wlog := logging.OrDiscard(log).WithField("worker", id)
	return &Worker{
		id:         id,
		recv:       recv,
		out:        out,
		dec:        opts.Decoder,
		reducer:    opts.Reducer,
		log:        wlog,
		decodeErrs: logging.NewSampler(wlog, opts.LogEvery),
		recvErrs:   logging.NewSampler(wlog, opts.LogEvery),
		unknown:    logging.NewSampler(wlog, opts.LogEvery),
		summary:    opts.SummaryInterval,
		extraDebug: opts.ExtraDebug,
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Stats must only be read after Run returned.
func (w *Worker) Stats() WorkerStats {
	return w.stats
}

// Run loops until ctx is cancelled or the receiver reports ErrClosed. A
// message already received is always processed before ctx is checked
// again. A nonzero frame counter is flushed as a final FrameCount event.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Worker started")
	defer func() {
		w.log.WithField("images", w.stats.Images).Info("Worker stopped")
	}()
	for ctx.Err() == nil {
		raw, err := w.recv.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				w.log.Debug("Receiver closed")
				break
			}
			w.stats.ReceiveErrors++
			w.recvErrs.Errorf("Receive failed: %v", err)
			continue
		}
		w.handle(raw)
	}
	if w.frames > 0 {
		w.emit(types.FrameCountEvent(w.id, w.frames))
		w.frames = 0
	}
}

func (w *Worker) handle(raw []byte) {
	w.stats.Messages++
	msg, err := w.dec.DecodeMessage(raw)
	if err != nil {
		w.stats.DecodeErrors++
		w.decodeErrs.Errorf("Dropping message: %v", err)
		return
	}
	if w.extraDebug {
		w.log.Debugf("Received %s message (%d bytes)", msg.Type, len(raw))
	}

	switch msg.Type {
	case types.MessageStart:
		w.log.Info("Received start message")
		w.emit(types.StartEvent(msg.Meta))
		w.frames = 0
	case types.MessageEnd:
		w.log.Info("Received end message")
		w.emit(types.EndEvent(msg.Meta))
		w.emit(types.FrameCountEvent(w.id, w.frames))
		w.frames = 0
	case types.MessageImage:
		w.frames++
		w.stats.Images++
		w.handleImage(msg.Image)
		if w.summary > 0 && w.stats.Images%uint64(w.summary) == 0 {
			w.log.WithFields(logrus.Fields{
				"images":        w.stats.Images,
				"data_events":   w.stats.DataEvents,
				"decode_errors": w.stats.DecodeErrors,
				"reduce_errors": w.stats.ReduceErrors,
			}).Debug("Worker summary")
		}
	default:
		w.stats.UnknownTypes++
		w.unknown.Warnf("Unknown message type: %q", msg.RawType)
	}
}

func (w *Worker) handleImage(img *types.Image) {
	for threshold, payload := range img.Channels {
		value, ok, err := w.reducer.Reduce(payload)
		if err != nil {
			w.stats.ReduceErrors++
			rerr := &processing.ReductionError{Threshold: threshold, Err: err}
			w.log.WithField("image_id", img.ImageID).Error(rerr.Error())
			continue
		}
		if !ok {
			continue
		}
		w.stats.DataEvents++
		w.emit(types.DataEvent(threshold, img.ImageID, img.StartTime, value))
	}
}

// emit blocks until the aggregator accepts the event. Once abort is closed
// nobody reads the results any more and the event is dropped.
func (w *Worker) emit(ev types.ResultEvent) {
	select {
	case w.out <- ev:
	case <-w.abort:
		w.stats.Dropped++
	}
}
