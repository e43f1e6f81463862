package processing

import (
	"fmt"
	"math"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
)

// Reducer turns one channel payload into a scalar. ok=false means "no
// observation": the caller emits nothing for that channel.
type Reducer interface {
	Reduce(payload any) (value uint32, ok bool, err error)
}

type ReducerFunc func(payload any) (uint32, bool, error)

func (f ReducerFunc) Reduce(payload any) (uint32, bool, error) {
	return f(payload)
}

// SaturationCount is the default reducer.
var SaturationCount Reducer = ReducerFunc(CountUnsaturated)

// ReductionError scopes a reducer failure to one threshold channel.
type ReductionError struct {
	Threshold string
	Err       error
}

func (e *ReductionError) Error() string {
	return fmt.Sprintf("reduce threshold %q: %v", e.Threshold, e.Err)
}

func (e *ReductionError) Unwrap() error {
	return e.Err
}

type integer interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

// CountUnsaturated counts the pixels strictly below the largest value the
// element type can hold. Saturated pixels carry the maximum (gaps, dead
// or overflowing pixels), so the count is the number of usable pixels.
// It always yields a value for integer arrays.
func CountUnsaturated(payload any) (uint32, bool, error) {
	arr, ok := ingest.Flatten(payload)
	if !ok {
		return 0, false, fmt.Errorf("payload of type %T is not an array", payload)
	}
	switch v := arr.Values.(type) {
	case []uint8:
		return countBelow(v, math.MaxUint8), true, nil
	case []uint16:
		return countBelow(v, math.MaxUint16), true, nil
	case []uint32:
		return countBelow(v, math.MaxUint32), true, nil
	case []uint64:
		return countBelow(v, math.MaxUint64), true, nil
	case []int8:
		return countBelow(v, math.MaxInt8), true, nil
	case []int16:
		return countBelow(v, math.MaxInt16), true, nil
	case []int32:
		return countBelow(v, math.MaxInt32), true, nil
	case []int64:
		return countBelow(v, math.MaxInt64), true, nil
	default:
		return 0, false, fmt.Errorf("saturation count needs an integer array, got dtype %s", arr.DType)
	}
}

func countBelow[T integer](values []T, max T) uint32 {
	var count uint32
	for _, v := range values {
		if v < max {
			count++
		}
	}
	return count
}
