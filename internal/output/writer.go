// Package output persists finished series as text maps and dumps their
// start and end metadata.
package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/logging"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
)

const seriesHeader = "image_index, x, y, timestamp, value"

// Writer stores series under one output directory. It implements
// processing.Store.
type Writer struct {
	dir string
	log logrus.FieldLogger
}

var _ processing.Store = (*Writer)(nil)

func NewWriter(dir string, log logrus.FieldLogger) *Writer {
	return &Writer{dir: dir, log: logging.OrDiscard(log)}
}

func (w *Writer) Dir() string {
	return w.dir
}

// SeriesPath names the file for one threshold. Threshold names come off
// the wire, so anything outside [A-Za-z0-9._-] is replaced with '_'.
func SeriesPath(dir, runID, threshold string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_output_%s_data.txt", runID, safeName(threshold)))
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

func MetadataPath(dir, runID, kind string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_data.txt", runID, kind))
}

// WriteSeries writes one file per threshold. A failing threshold does not
// stop the others; all failures are returned joined.
func (w *Writer) WriteSeries(runID string, gridX, gridY int, data map[string]*processing.ThresholdData) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, threshold := range names {
		path := SeriesPath(w.dir, runID, threshold)
		rows, err := writeThreshold(path, gridX, data[threshold])
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %s: %w", threshold, err))
			continue
		}
		w.log.WithFields(logrus.Fields{"file": path, "rows": rows}).Infof("Data for %s written", threshold)
	}
	return errors.Join(errs...)
}

func writeThreshold(path string, gridX int, td *processing.ThresholdData) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	rows, err := writeRows(bw, gridX, td)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return rows, err
}

func writeRows(bw *bufio.Writer, gridX int, td *processing.ThresholdData) (int, error) {
	if _, err := fmt.Fprintln(bw, seriesHeader); err != nil {
		return 0, err
	}
	rows := 0
	for imageID, ok := range td.Mask {
		if !ok {
			continue
		}
		x := imageID % gridX
		y := imageID / gridX
		if _, err := fmt.Fprintf(bw, "%d, %d, %d, %.6f, %d\n",
			imageID, x, y, td.Timestamps[imageID], td.Values[imageID]); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}

// WriteMetadata dumps meta as indented JSON to <run>_<kind>_data.txt.
func (w *Writer) WriteMetadata(runID, kind string, meta map[string]any) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.MarshalIndent(NormalizeJSONValue(meta), "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s metadata: %w", kind, err)
	}
	path := MetadataPath(w.dir, runID, kind)
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return err
	}
	w.log.WithField("file", path).Debugf("%s metadata written", kind)
	return nil
}
