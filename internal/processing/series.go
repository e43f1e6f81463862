package processing

import "sort"

// ThresholdData is the per-threshold bucket of one series, sized to the
// grid's pixel count. Mask entries only ever go from false to true.
type ThresholdData struct {
	Values     []uint32
	Timestamps []float64
	Mask       []bool
	present    int
}

func newThresholdData(totalPixels int) *ThresholdData {
	return &ThresholdData{
		Values:     make([]uint32, totalPixels),
		Timestamps: make([]float64, totalPixels),
		Mask:       make([]bool, totalPixels),
	}
}

// set records one point; a later write for the same index wins.
func (td *ThresholdData) set(imageID int, timestamp float64, value uint32) {
	if !td.Mask[imageID] {
		td.Mask[imageID] = true
		td.present++
	}
	td.Values[imageID] = value
	td.Timestamps[imageID] = timestamp
}

// Present returns the number of pixels written so far.
func (td *ThresholdData) Present() int {
	return td.present
}

// Series is the state of one scan between start and end.
type Series struct {
	RunID      string
	StartSaved bool
	EndSaved   bool
	Frames     int
	Data       map[string]*ThresholdData
}

func newSeries(runID string) *Series {
	return &Series{
		RunID: runID,
		Data:  make(map[string]*ThresholdData),
	}
}

// Thresholds returns the active threshold names in sorted order.
func (s *Series) Thresholds() []string {
	names := make([]string, 0, len(s.Data))
	for name := range s.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Series) bucket(threshold string, totalPixels int) (*ThresholdData, bool) {
	td, ok := s.Data[threshold]
	if !ok {
		td = newThresholdData(totalPixels)
		s.Data[threshold] = td
	}
	return td, !ok
}

// populated returns the buckets holding at least one pixel.
func (s *Series) populated() map[string]*ThresholdData {
	out := make(map[string]*ThresholdData, len(s.Data))
	for name, td := range s.Data {
		if td.present > 0 {
			out[name] = td
		}
	}
	return out
}
