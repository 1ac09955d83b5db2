// Package ejson implements the small extended-JSON tagging convention
// the protocol uses for values JSON cannot represent natively: dates
// and binary blobs. A tagged value is a single-key JSON object whose
// key starts with "$"; unrecognized tags pass through opaquely so a
// client never has to understand every tag a server might send.
package ejson

import (
	"encoding/base64"
	"time"
)

const (
	dateTag   = "$date"
	binaryTag = "$binary"
)

// Date wraps time.Time for the {"$date": <ms>} wire shape. Retag (via
// MarshalJSONValue) produces that shape; Date has no MarshalJSON of its
// own, so passing it to json.Marshal directly yields the embedded
// time.Time's RFC3339 string.
type Date struct {
	time.Time
}

// Binary wraps a byte slice for the {"$binary": "<base64>"} wire shape.
// Retag (via MarshalJSONValue) produces that shape; Binary has no
// MarshalJSON of its own, so json.Marshal on it directly yields
// {"Data": "<base64>"}.
type Binary struct {
	Data []byte
}

// Tag converts a decoded JSON object into a richer Go value when it
// matches one of the known extended-JSON shapes. It returns (nil,
// false) for anything else, including unrecognized "$"-prefixed tags,
// which the caller should pass through opaquely.
func Tag(v map[string]any) (any, bool) {
	if len(v) != 1 {
		return nil, false
	}
	for k, raw := range v {
		switch k {
		case dateTag:
			ms, ok := raw.(float64)
			if !ok {
				return nil, false
			}
			return Date{Time: time.UnixMilli(int64(ms)).UTC()}, true
		case binaryTag:
			s, ok := raw.(string)
			if !ok {
				return nil, false
			}
			data, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, false
			}
			return Binary{Data: data}, true
		}
	}
	return nil, false
}

// Untag walks a decoded JSON value tree and replaces extended-JSON
// wrapper objects with their Go equivalents (Date, Binary), leaving
// everything else — including unknown "$"-prefixed tags — untouched.
func Untag(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if tagged, ok := Tag(t); ok {
			return tagged
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Untag(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Untag(val)
		}
		return out
	default:
		return v
	}
}

// MarshalJSONValue renders a Date back to its wire shape.
func (d Date) MarshalJSONValue() map[string]any {
	return map[string]any{dateTag: d.UnixMilli()}
}

// MarshalJSONValue renders a Binary back to its wire shape.
func (b Binary) MarshalJSONValue() map[string]any {
	return map[string]any{binaryTag: base64.StdEncoding.EncodeToString(b.Data)}
}

// Retag walks a Go value tree built from Untag (or application code)
// and converts Date/Binary values back into their wire-shape maps so
// the encoder can serialize them with encoding/json.
func Retag(v any) any {
	switch t := v.(type) {
	case Date:
		return t.MarshalJSONValue()
	case Binary:
		return t.MarshalJSONValue()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Retag(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Retag(val)
		}
		return out
	default:
		return v
	}
}
