package processing

import "time"

// Sink receives live map updates, e.g. a websocket hub.
type Sink interface {
	Reset(gridX, gridY int)
	Update(threshold string, imageID int, value uint32)
	Refresh()
}

// refresher decides when the sink redraws: every N updates when every > 0,
// otherwise at most once per interval.
type refresher struct {
	sink     Sink
	every    int
	interval time.Duration
	now      func() time.Time

	last    time.Time
	count   int
	pending bool
}

func (r *refresher) updated() {
	r.count++
	r.pending = true
	if r.every > 0 {
		if r.count%r.every == 0 {
			r.refresh()
		}
		return
	}
	r.tick()
}

// tick refreshes a pending time-based update once the interval elapsed.
func (r *refresher) tick() {
	if !r.pending || r.every > 0 {
		return
	}
	if r.now().Sub(r.last) >= r.interval {
		r.refresh()
	}
}

func (r *refresher) force() {
	if r.pending {
		r.refresh()
	}
}

func (r *refresher) reset() {
	r.count = 0
	r.pending = false
}

func (r *refresher) refresh() {
	r.sink.Refresh()
	r.last = r.now()
	r.pending = false
}
