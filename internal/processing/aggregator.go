package processing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

type State int

const (
	Idle State = iota
	Active
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store persists finished series and their metadata.
type Store interface {
	WriteMetadata(runID, kind string, meta map[string]any) error
	WriteSeries(runID string, gridX, gridY int, data map[string]*ThresholdData) error
}

type Options struct {
	// Sink is optional.
	Sink            Sink
	RefreshEvery    int
	RefreshInterval time.Duration
	// ResultTimeout bounds each receive in Run.
	ResultTimeout time.Duration
	// DrainTimeout bounds how long Run keeps reading after cancellation.
	DrainTimeout time.Duration
	Now          func() time.Time
}

// Stats is a point-in-time view of the aggregator for status reporting.
type Stats struct {
	State           string   `json:"state"`
	RunID           string   `json:"run_id"`
	Thresholds      []string `json:"thresholds"`
	DataEvents      uint64   `json:"data_events_total"`
	RangeDrops      uint64   `json:"range_drops_total"`
	DuplicateStarts uint64   `json:"duplicate_starts_total"`
	DuplicateEnds   uint64   `json:"duplicate_ends_total"`
	SeriesFlushed   uint64   `json:"series_flushed_total"`
	RowsWritten     uint64   `json:"rows_written_total"`
	WriteErrors     uint64   `json:"write_errors_total"`
	SeriesFrames    int      `json:"series_frames"`
	TotalFrames     int      `json:"total_frames"`
	// FramesExpected comes from the start metadata's number_of_images.
	FramesExpected  int      `json:"frames_expected"`
	// FramesReceived is the number of distinct images with data in the
	// fullest threshold of the current or last series.
	FramesReceived  int      `json:"frames_received"`
}

// Aggregator is the single consumer of worker results. All methods except
// Stats must be called from one goroutine.
type Aggregator struct {
	gridX       int
	gridY       int
	totalPixels int
	store       Store
	sink        Sink
	log         logrus.FieldLogger
	now         func() time.Time

	resultTimeout time.Duration
	drainTimeout  time.Duration
	refresh       *refresher

	state     State
	series    *Series
	lastRunID string
	lastBase  string
	runSeq    int

	stats     Stats
	published atomic.Pointer[Stats]
}

func NewAggregator(gridX, gridY int, store Store, log logrus.FieldLogger, opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = 100 * time.Millisecond
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	a := &Aggregator{
		gridX:         gridX,
		gridY:         gridY,
		totalPixels:   gridX * gridY,
		store:         store,
		sink:          opts.Sink,
		log:           logging.OrDiscard(log),
		now:           opts.Now,
		resultTimeout: opts.ResultTimeout,
		drainTimeout:  opts.DrainTimeout,
	}
	if opts.Sink != nil {
		a.refresh = &refresher{
			sink:     opts.Sink,
			every:    opts.RefreshEvery,
			interval: opts.RefreshInterval,
			now:      opts.Now,
			last:     opts.Now(),
		}
	}
	a.publish()
	return a
}

func (a *Aggregator) State() State {
	return a.state
}

// Series returns the open series, or nil when idle.
func (a *Aggregator) Series() *Series {
	return a.series
}

// Stats may be called from any goroutine.
func (a *Aggregator) Stats() Stats {
	return *a.published.Load()
}

// Run consumes events until the channel is closed or ctx is cancelled.
// Cancellation is checked between receives; after it, Run keeps draining
// so late events (final frame counts) are not lost, then flushes.
func (a *Aggregator) Run(ctx context.Context, events <-chan types.ResultEvent) {
	timer := time.NewTimer(a.resultTimeout)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			a.drain(events)
			a.Finish()
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.resultTimeout)
		select {
		case ev, ok := <-events:
			if !ok {
				a.Finish()
				return
			}
			a.Handle(ev)
		case <-timer.C:
			a.tick()
		}
	}
}

func (a *Aggregator) drain(events <-chan types.ResultEvent) {
	deadline := time.NewTimer(a.drainTimeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.Handle(ev)
		case <-deadline.C:
			a.log.Warnf("Stopped draining results after %s", a.drainTimeout)
			return
		}
	}
}

func (a *Aggregator) tick() {
	if a.refresh != nil {
		a.refresh.tick()
	}
	a.publish()
}

// Handle applies one result event to the state machine.
func (a *Aggregator) Handle(ev types.ResultEvent) {
	switch ev.Type {
	case types.EventStart:
		a.handleStart(ev.Meta)
	case types.EventData:
		a.handleData(ev)
	case types.EventEnd:
		a.handleEnd(ev.Meta)
	case types.EventFrameCount:
		a.handleFrameCount(ev)
	default:
		a.log.Warnf("Unknown result type received: %q", ev.Type)
	}
}

// Finish flushes a series whose end message never arrived and reports the
// frame total. It is the stream-exhaustion path.
func (a *Aggregator) Finish() {
	if a.state == Active {
		a.log.WithField("run", a.series.RunID).Warn("Stream ended without end message; flushing collected data")
		a.flush()
	}
	a.log.Infof("Total frames received and processed by all workers: %d", a.stats.TotalFrames)
	a.publish()
}

func (a *Aggregator) handleStart(meta map[string]any) {
	if a.state == Idle {
		a.begin()
	}
	if a.series.StartSaved {
		a.stats.DuplicateStarts++
		a.log.Debug("Start data already saved. Ignoring duplicate.")
		return
	}
	if err := a.store.WriteMetadata(a.series.RunID, "start", meta); err != nil {
		a.stats.WriteErrors++
		a.log.WithError(err).Error("Saving start data failed")
		return
	}
	a.series.StartSaved = true
	if n, ok := metaInt(meta["number_of_images"]); ok {
		a.stats.FramesExpected = n
	}
	a.log.WithField("run", a.series.RunID).Info("Saved start message data")
	a.publish()
}

func metaInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (a *Aggregator) handleData(ev types.ResultEvent) {
	if ev.ImageID < 0 || ev.ImageID >= a.totalPixels {
		a.stats.RangeDrops++
		a.log.Warnf("Threshold %s: image_id %d out of range for grid %dx%d, skipping entry", ev.Threshold, ev.ImageID, a.gridX, a.gridY)
		return
	}
	if a.state == Idle {
		a.log.Info("Data received before start; opening a new series")
		a.begin()
	}
	td, created := a.series.bucket(ev.Threshold, a.totalPixels)
	if created {
		a.log.WithField("run", a.series.RunID).Infof("Collecting threshold %s", ev.Threshold)
	}
	td.set(ev.ImageID, ev.Timestamp, ev.Value)
	a.stats.DataEvents++
	if td.present > a.stats.FramesReceived {
		a.stats.FramesReceived = td.present
	}

	if a.sink != nil {
		a.sink.Update(ev.Threshold, ev.ImageID, ev.Value)
		a.refresh.updated()
	}
}

func (a *Aggregator) handleEnd(meta map[string]any) {
	if a.state == Idle {
		if a.lastRunID != "" {
			a.stats.DuplicateEnds++
			a.log.WithField("run", a.lastRunID).Debug("End data already saved. Ignoring duplicate.")
			return
		}
		a.begin()
	}
	a.state = Flushing
	if !a.series.EndSaved {
		if err := a.store.WriteMetadata(a.series.RunID, "end", meta); err != nil {
			a.stats.WriteErrors++
			a.log.WithError(err).Error("Saving end data failed")
		} else {
			a.series.EndSaved = true
			a.log.WithField("run", a.series.RunID).Info("Saved end message data")
		}
	}
	a.flush()
}

func (a *Aggregator) handleFrameCount(ev types.ResultEvent) {
	a.stats.TotalFrames += ev.Count
	if a.series != nil {
		a.series.Frames += ev.Count
	}
	a.log.Debugf("Received frame count %d from %s.", ev.Count, ev.WorkerID)
}

func (a *Aggregator) begin() {
	a.series = newSeries(a.nextRunID())
	a.state = Active
	a.stats.FramesExpected = 0
	a.stats.FramesReceived = 0
	if a.sink != nil {
		a.sink.Reset(a.gridX, a.gridY)
		a.refresh.reset()
	}
	a.log.WithField("run", a.series.RunID).Info("Series started")
	a.publish()
}

// flush writes the populated buckets and returns to Idle.
func (a *Aggregator) flush() {
	a.state = Flushing
	series := a.series
	if a.refresh != nil {
		a.refresh.force()
	}

	a.log.Info("Writing collected data to text files...")
	data := series.populated()
	for _, name := range series.Thresholds() {
		if _, ok := data[name]; !ok {
			a.log.Infof("No data collected for threshold %s. Skipping file creation.", name)
		}
	}
	if err := a.store.WriteSeries(series.RunID, a.gridX, a.gridY, data); err != nil {
		a.stats.WriteErrors++
		a.log.WithError(err).WithField("run", series.RunID).Error("Output write failed")
	} else {
		for _, td := range data {
			a.stats.RowsWritten += uint64(td.present)
		}
	}
	a.stats.SeriesFlushed++
	a.log.WithField("run", series.RunID).Infof("Series processing completed with %d frames reported by workers. Waiting for the next series to start.", series.Frames)

	a.lastRunID = series.RunID
	a.series = nil
	a.state = Idle
	a.publish()
}

// nextRunID formats the wall clock and disambiguates series that start
// within the same second.
func (a *Aggregator) nextRunID() string {
	base := a.now().Format("20060102_150405")
	if base != a.lastBase {
		a.lastBase = base
		a.runSeq = 0
		return base
	}
	a.runSeq++
	return fmt.Sprintf("%s_%d", base, a.runSeq+1)
}

func (a *Aggregator) publish() {
	snap := a.stats
	snap.State = a.state.String()
	snap.RunID = ""
	snap.Thresholds = nil
	snap.SeriesFrames = 0
	if a.series != nil {
		snap.RunID = a.series.RunID
		snap.Thresholds = a.series.Thresholds()
		snap.SeriesFrames = a.series.Frames
	}
	a.published.Store(&snap)
}
