package output

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/processing"
)

func bucket(n int, ids ...int) *processing.ThresholdData {
	td := &processing.ThresholdData{
		Values:     make([]uint32, n),
		Timestamps: make([]float64, n),
		Mask:       make([]bool, n),
	}
	for _, id := range ids {
		td.Values[id] = uint32(id * 10)
		td.Timestamps[id] = float64(id) / 10
		td.Mask[id] = true
	}
	return td
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func TestWriteSeriesFullGrid(t *testing.T) {
	dir := t.TempDir()
	ids := make([]int, 16)
	for i := range ids {
		ids[i] = i
	}
	w := NewWriter(dir, nil)
	require.NoError(t, w.WriteSeries("20240301_120000", 4, 4, map[string]*processing.ThresholdData{
		"t0": bucket(16, ids...),
	}))

	lines := readLines(t, SeriesPath(dir, "20240301_120000", "t0"))
	require.Len(t, lines, 17)
	assert.Equal(t, "image_index, x, y, timestamp, value", lines[0])
	assert.Equal(t, "5, 1, 1, 0.500000, 50", lines[6])
	assert.Equal(t, "15, 3, 3, 1.500000, 150", lines[16])
}

func TestWriteSeriesSparseRows(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	require.NoError(t, w.WriteSeries("run", 3, 2, map[string]*processing.ThresholdData{
		"threshold_1": bucket(6, 4, 1),
	}))

	lines := readLines(t, SeriesPath(dir, "run", "threshold_1"))
	assert.Equal(t, []string{
		"image_index, x, y, timestamp, value",
		"1, 1, 0, 0.100000, 10",
		"4, 1, 1, 0.400000, 40",
	}, lines)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteSeriesReportsFailures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewWriter(blocker, nil).WriteSeries("run", 1, 1, map[string]*processing.ThresholdData{"t0": bucket(1, 0)})
	assert.Error(t, err)
}

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	meta := map[string]any{
		"series_id":  uint64(3),
		"channels":   []any{"threshold_0", "threshold_1"},
		"count_time": math.NaN(),
		"nested":     map[any]any{uint64(1): "one"},
	}
	require.NoError(t, w.WriteMetadata("run", "start", meta))

	raw, err := os.ReadFile(MetadataPath(dir, "run", "start"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, float64(3), got["series_id"])
	assert.Equal(t, "NaN", got["count_time"])
	assert.Equal(t, map[string]any{"1": "one"}, got["nested"])

	require.NoError(t, w.WriteMetadata("run", "end", nil))
	assert.FileExists(t, MetadataPath(dir, "run", "end"))
}

func TestNormalizeJSONValueArrays(t *testing.T) {
	small := ingest.Array{DType: ingest.DType{Kind: ingest.Uint, Size: 2}, Values: []uint16{1, 2, 3}}
	got := NormalizeJSONValue(small).(map[string]any)
	assert.Equal(t, []int{3}, got["shape"])
	assert.Equal(t, []any{uint16(1), uint16(2), uint16(3)}, got["values"])

	big := ingest.Array{DType: ingest.DType{Kind: ingest.Uint, Size: 1}, Values: make([]uint8, 1000)}
	got = NormalizeJSONValue(big).(map[string]any)
	assert.NotContains(t, got, "values")
	assert.Equal(t, "|u1", got["dtype"])

	tag := NormalizeJSONValue(cbor.Tag{Number: 99, Content: []byte{1, 2}}).(map[string]any)
	assert.Equal(t, uint64(99), tag["tag"])
	assert.Equal(t, map[string]any{"bytes": 2}, tag["content"])
}

func TestWriteSeriesKeepsThresholdInsideDir(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	require.NoError(t, w.WriteSeries("run", 2, 2, map[string]*processing.ThresholdData{
		"../../escape/t0": bucket(4, 0),
	}))

	path := SeriesPath(dir, "run", "../../escape/t0")
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, "run_output_.._.._escape_t0_data.txt", filepath.Base(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
