// Package simulator produces a synthetic detector stream for offline runs.
// Messages are real CBOR, encoded the way the detector encodes them, so
// they travel the same decode path as live data.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/compression"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
)

// ErrExhausted is returned by Next after the last scan's end message.
var ErrExhausted = errors.New("simulator: exhausted")

// little-endian uint16 typed array
const tagUint16LE = 69

const saturated = math.MaxUint16

var Thresholds = []string{"threshold_0", "threshold_1"}

type Config struct {
	GridX int
	GridY int
	// AcqRate paces image messages in frames per second; 0 disables pacing.
	AcqRate float64
	// Scans is the number of series to emit; 0 runs forever.
	Scans     int
	FrameRows int
	FrameCols int
	// Compression is "" or a codec name understood by the compression
	// package.
	Compression string
	Seed        int64
}

func (c Config) withDefaults() Config {
	if c.FrameRows <= 0 {
		c.FrameRows = 48
	}
	if c.FrameCols <= 0 {
		c.FrameCols = 48
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

type phase int

const (
	phaseStart phase = iota
	phaseImages
	phaseEnd
	phaseDone
)

// Source is a finite, non-restartable sequence of encoded messages: for
// every scan one start, GridX*GridY images and one end.
type Source struct {
	cfg  Config
	log  logrus.FieldLogger
	rng  *rand.Rand
	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error

	base     []float64
	sqrtBase []float64
	values   []uint32

	phase   phase
	scan    int
	imageID int
	next    time.Time
}

func New(cfg Config, log logrus.FieldLogger) (*Source, error) {
	cfg = cfg.withDefaults()
	if cfg.GridX < 1 || cfg.GridY < 1 {
		return nil, fmt.Errorf("invalid grid %dx%d", cfg.GridX, cfg.GridY)
	}
	if cfg.Compression != "" {
		if _, err := compression.ParseAlgorithm(cfg.Compression); err != nil {
			return nil, err
		}
	}
	total := cfg.GridX * cfg.GridY
	s := &Source{
		cfg:      cfg,
		log:      logging.OrDiscard(log),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		now:      time.Now,
		wait:     sleep,
		base:     make([]float64, total),
		sqrtBase: make([]float64, total),
		values:   make([]uint32, total),
	}
	centerX := float64(cfg.GridX) / 2
	centerY := float64(cfg.GridY) / 2
	spread := float64(total) / 20
	for i := 0; i < total; i++ {
		dx := float64(i%cfg.GridX) - centerX
		dy := float64(i/cfg.GridX) - centerY
		s.base[i] = 1000 * math.Exp(-(dx*dx+dy*dy)/spread)
		s.sqrtBase[i] = math.Sqrt(s.base[i])
	}
	return s, nil
}

// Values returns the threshold_0 map of the current scan.
func (s *Source) Values() []uint32 {
	return s.values
}

// Next returns the next encoded message, waiting for the acquisition
// pacing before each image.
func (s *Source) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch s.phase {
	case phaseStart:
		s.regenerate()
		s.phase = phaseImages
		s.imageID = 0
		s.log.WithField("scan", s.scan).Info("Simulated scan started")
		return s.encode(map[string]any{
			"type":             "start",
			"series_id":        s.scan,
			"grid_x":           s.cfg.GridX,
			"grid_y":           s.cfg.GridY,
			"number_of_images": len(s.values),
			"channels":         Thresholds,
		})
	case phaseImages:
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		msg, err := s.image(s.imageID)
		if err != nil {
			return nil, err
		}
		s.imageID++
		if s.imageID >= len(s.values) {
			s.phase = phaseEnd
		}
		return msg, nil
	case phaseEnd:
		frames := len(s.values)
		s.scan++
		s.phase = phaseStart
		if s.cfg.Scans > 0 && s.scan >= s.cfg.Scans {
			s.phase = phaseDone
		}
		return s.encode(map[string]any{
			"type":      "end",
			"series_id": s.scan - 1,
			"frames":    frames,
		})
	default:
		return nil, ErrExhausted
	}
}

// Run feeds out until the source is exhausted or ctx is cancelled, then
// closes out.
func (s *Source) Run(ctx context.Context, out chan<- []byte) error {
	defer close(out)
	for {
		msg, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// regenerate draws a fresh noisy copy of the Gaussian spot.
func (s *Source) regenerate() {
	for i := range s.values {
		v := s.base[i] + s.rng.NormFloat64()*s.sqrtBase[i]
		if v < 0 {
			v = 0
		}
		s.values[i] = uint32(v)
	}
}

func (s *Source) image(id int) ([]byte, error) {
	value := s.values[id]
	channels := map[string]uint32{
		Thresholds[0]: value,
		Thresholds[1]: uint32(float64(value) * 0.7),
	}
	data := make(map[string]any, len(channels))
	for name, count := range channels {
		payload, err := s.frame(count)
		if err != nil {
			return nil, err
		}
		data[name] = payload
	}
	return s.encode(map[string]any{
		"type":       "image",
		"image_id":   id,
		"start_time": float64(s.now().UnixNano()) / 1e9,
		"data":       data,
	})
}

// frame builds a uint16 detector frame with exactly count unsaturated
// pixels, clamped to the frame size.
func (s *Source) frame(count uint32) (cbor.Tag, error) {
	n := s.cfg.FrameRows * s.cfg.FrameCols
	if int(count) > n {
		count = uint32(n)
	}
	pixels := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := uint16(saturated)
		if i < int(count) {
			v = uint16(s.rng.Intn(4))
		}
		binary.LittleEndian.PutUint16(pixels[2*i:], v)
	}
	var content any = pixels
	if s.cfg.Compression != "" {
		encoded, err := compression.Compress(pixels, s.cfg.Compression, 2)
		if err != nil {
			return cbor.Tag{}, err
		}
		content = cbor.Tag{
			Number:  ingest.TagDectrisCompression,
			Content: []any{s.cfg.Compression, 2, encoded},
		}
	}
	return cbor.Tag{
		Number: ingest.TagMultiDimArray,
		Content: []any{
			[]int{s.cfg.FrameRows, s.cfg.FrameCols},
			cbor.Tag{Number: tagUint16LE, Content: content},
		},
	}, nil
}

func (s *Source) encode(msg map[string]any) ([]byte, error) {
	raw, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %v message: %w", msg["type"], err)
	}
	return raw, nil
}

func (s *Source) pace(ctx context.Context) error {
	if s.cfg.AcqRate <= 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / s.cfg.AcqRate)
	now := s.now()
	if s.next.IsZero() || s.next.Before(now.Add(-interval)) {
		s.next = now
	}
	if d := s.next.Sub(now); d > 0 {
		if err := s.wait(ctx, d); err != nil {
			return err
		}
	}
	s.next = s.next.Add(interval)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
