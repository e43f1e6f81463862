package server

import (
	"sort"
	"sync"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

const hubBuffer = 16

// Hub keeps the live map that websocket clients render. The aggregator
// drives it through processing.Sink; HTTP handlers read it concurrently.
type Hub struct {
	mu       sync.Mutex
	gridX    int
	gridY    int
	defaults []string
	maps     map[string]*types.ThresholdSnapshot
	latest   *types.UISnapshot
	stats    map[string]map[string]float64
	messages chan any
	dropped  uint64
	refreshN uint64
}

var _ processing.Sink = (*Hub)(nil)

// NewHub starts with an empty grid. thresholds are announced to clients
// until the first data point of a series names the real ones.
func NewHub(gridX, gridY int, thresholds []string) *Hub {
	return &Hub{
		gridX:    gridX,
		gridY:    gridY,
		defaults: append([]string(nil), thresholds...),
		maps:     make(map[string]*types.ThresholdSnapshot),
		messages: make(chan any, hubBuffer),
	}
}

// Messages yields config and snapshot payloads for broadcasting. Payloads
// are dropped when nobody keeps up.
func (h *Hub) Messages() <-chan any {
	return h.messages
}

func (h *Hub) Reset(gridX, gridY int) {
	h.mu.Lock()
	h.gridX = gridX
	h.gridY = gridY
	h.maps = make(map[string]*types.ThresholdSnapshot)
	h.latest = nil
	h.stats = nil
	cfg := h.configLocked()
	h.mu.Unlock()
	h.publish(cfg)
}

func (h *Hub) Update(threshold string, imageID int, value uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := h.gridX * h.gridY
	if imageID < 0 || imageID >= total {
		return
	}
	m, ok := h.maps[threshold]
	if !ok {
		m = &types.ThresholdSnapshot{
			Values: make([]uint32, total),
			Mask:   make([]bool, total),
		}
		h.maps[threshold] = m
	}
	m.Values[imageID] = value
	m.Mask[imageID] = true
}

// Refresh copies the current maps into a snapshot and queues it.
func (h *Hub) Refresh() {
	h.mu.Lock()
	if len(h.maps) == 0 {
		h.mu.Unlock()
		return
	}
	snap := types.UISnapshot{Type: "snapshot", Data: make(map[string]types.ThresholdSnapshot, len(h.maps))}
	stats := make(map[string]map[string]float64, len(h.maps))
	for name, m := range h.maps {
		snap.Data[name] = types.ThresholdSnapshot{
			Values: append([]uint32(nil), m.Values...),
			Mask:   append([]bool(nil), m.Mask...),
		}
		stats[name] = summarize(m)
	}
	h.latest = &snap
	h.stats = stats
	h.refreshN++
	h.mu.Unlock()
	h.publish(snap)
}

// Snapshot returns the last refreshed snapshot.
func (h *Hub) Snapshot() (types.UISnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return types.UISnapshot{}, false
	}
	return *h.latest, true
}

func (h *Hub) Config() types.UIConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configLocked()
}

// ImageStats holds min, max and mean of the present pixels per threshold
// as of the last refresh.
func (h *Hub) ImageStats() map[string]map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Hub) Counters() (refreshes, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshN, h.dropped
}

func (h *Hub) configLocked() types.UIConfig {
	thresholds := make([]string, 0, len(h.maps))
	for name := range h.maps {
		thresholds = append(thresholds, name)
	}
	sort.Strings(thresholds)
	if len(thresholds) == 0 {
		thresholds = append(thresholds, h.defaults...)
	}
	return types.UIConfig{Type: "config", GridX: h.gridX, GridY: h.gridY, Thresholds: thresholds}
}

func (h *Hub) publish(msg any) {
	select {
	case h.messages <- msg:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

func summarize(m *types.ThresholdSnapshot) map[string]float64 {
	var minVal, maxVal, sum, count float64
	for i, v := range m.Values {
		if !m.Mask[i] {
			continue
		}
		f := float64(v)
		if count == 0 || f < minVal {
			minVal = f
		}
		if count == 0 || f > maxVal {
			maxVal = f
		}
		sum += f
		count++
	}
	mean := 0.0
	if count > 0 {
		mean = sum / count
	}
	return map[string]float64{"min": minVal, "max": maxVal, "mean": mean}
}
