package output

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/ingest"
)

// maxInlineValues bounds how many array elements are rendered verbatim.
const maxInlineValues = 64

// NormalizeJSONValue converts decoded CBOR values into something
// encoding/json accepts: string map keys, no NaN, and large arrays
// replaced by a short summary.
func NormalizeJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return map[string]any{"bytes": len(t)}
	case float64:
		return normalizeFloat(t)
	case float32:
		return normalizeFloat(float64(t))
	case ingest.Array:
		return summarizeArray(t, nil)
	case *ingest.NDArray:
		return summarizeArray(t.RowMajor(), t.Shape)
	case cbor.Tag:
		return map[string]any{"tag": t.Number, "content": NormalizeJSONValue(t.Content)}
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	return f
}

func summarizeArray(a ingest.Array, shape []int) any {
	n := a.Len()
	if shape == nil {
		shape = []int{n}
	}
	out := map[string]any{
		"dtype": a.DType.String(),
		"shape": shape,
	}
	if n <= maxInlineValues {
		values := make([]any, n)
		for i := range values {
			values[i] = NormalizeJSONValue(a.Index(i))
		}
		out["values"] = values
	}
	return out
}
