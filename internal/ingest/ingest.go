// Package ingest decodes detector stream messages: CBOR maps whose
// payloads use RFC 8746 typed and multi-dimensional array tags and the
// Dectris compression tag.
package ingest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/compression"
	"github.com/SaschaAndresGrimm/stxm-realtime-map/internal/types"
)

// DecompressFunc is the external codec behind tag 56500.
type DecompressFunc func(encoded []byte, algorithm string, elemSize int) ([]byte, error)

// Decoder is stateless apart from its codec and safe for concurrent use.
type Decoder struct {
	decompress DecompressFunc
}

func NewDecoder(decompress DecompressFunc) *Decoder {
	if decompress == nil {
		decompress = compression.Decompress
	}
	return &Decoder{decompress: decompress}
}

var defaultDecoder = NewDecoder(nil)

// DecodeMessage decodes raw with the default codec.
func DecodeMessage(raw []byte) (types.Message, error) {
	return defaultDecoder.DecodeMessage(raw)
}

// DecodeMessage turns one raw transport payload into a Message. Extension
// tags anywhere in the payload are resolved; unknown tags are kept as
// cbor.Tag. Any malformed tag fails the whole message with a *DecodeError.
func (d *Decoder) DecodeMessage(raw []byte) (types.Message, error) {
	var payload any
	if err := cbor.Unmarshal(raw, &payload); err != nil {
		return types.Message{}, &DecodeError{Reason: "cbor", Err: err}
	}
	resolved, err := d.Resolve(payload)
	if err != nil {
		return types.Message{}, err
	}
	top, ok := toStringMap(resolved)
	if !ok {
		return types.Message{}, &DecodeError{Reason: fmt.Sprintf("expected a map with string keys, got %T", resolved)}
	}

	msgType, ok := top["type"].(string)
	if !ok || msgType == "" {
		return types.Message{}, &DecodeError{Field: "type", Reason: "missing message type"}
	}
	switch types.MessageType(msgType) {
	case types.MessageStart, types.MessageEnd:
		meta := make(map[string]any, len(top))
		for key, value := range top {
			if key == "type" {
				continue
			}
			meta[key] = value
		}
		return types.Message{Type: types.MessageType(msgType), RawType: msgType, Meta: meta}, nil
	case types.MessageImage:
		image, err := decodeImage(top)
		if err != nil {
			return types.Message{}, err
		}
		return types.Message{Type: types.MessageImage, RawType: msgType, Image: image}, nil
	default:
		return types.Message{Type: types.MessageUnknown, RawType: msgType}, nil
	}
}

func decodeImage(top map[string]any) (*types.Image, error) {
	imageID, err := toInt(top["image_id"])
	if err != nil {
		return nil, &DecodeError{Field: "image_id", Reason: "invalid", Err: err}
	}
	startTime, err := parseTimeValue(top["start_time"])
	if err != nil {
		return nil, &DecodeError{Field: "start_time", Reason: "invalid", Err: err}
	}
	channels, ok := toStringMap(top["data"])
	if !ok {
		return nil, &DecodeError{Field: "data", Reason: fmt.Sprintf("expected threshold map, got %T", top["data"])}
	}
	return &types.Image{
		ImageID:   imageID,
		StartTime: startTime,
		Channels:  channels,
	}, nil
}

// Resolve walks a generic CBOR value bottom-up and applies the extension
// tag table. The input is never modified.
func (d *Decoder) Resolve(v any) (any, error) {
	switch t := v.(type) {
	case cbor.Tag:
		content, err := d.Resolve(t.Content)
		if err != nil {
			return nil, err
		}
		dec, ok := tagDecoders[t.Number]
		if !ok {
			return passThrough(t, content), nil
		}
		return dec(d, content)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := d.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[any]any:
		out := make(map[any]any, len(t))
		for key, item := range t {
			r, err := d.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, item := range t {
			r, err := d.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	case nil:
		return 0, errors.New("missing integer value")
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}

// parseTimeValue accepts a scalar or a sequence, in which case the first
// element is the timestamp.
func parseTimeValue(v any) (float64, error) {
	if v == nil {
		return 0, errors.New("missing time value")
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return 0, errors.New("empty time sequence")
		}
		return toFloat(t[0])
	case Array:
		if t.Len() == 0 {
			return 0, errors.New("empty time array")
		}
		return numericToFloat(t.Index(0))
	case *NDArray:
		if t.Len() == 0 {
			return 0, errors.New("empty time array")
		}
		return numericToFloat(t.RowMajor().Index(0))
	default:
		return toFloat(t)
	}
}

func numericToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return toFloat(v)
	}
}

func toStringMap(v any) (map[string]any, bool) {
	if typed, ok := v.(map[string]any); ok {
		return typed, true
	}
	raw, ok := v.(map[any]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		ks, ok := key.(string)
		if !ok {
			return nil, false
		}
		out[ks] = value
	}
	return out, true
}
