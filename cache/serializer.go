package cache

import (
	"bytes"
	"encoding/json"
)

// Serializer converts between a cached value and its persisted form.
// Deserialize reports ok == false when raw holds no value, in which case
// the store falls back to its fallback value.
type Serializer[D any] interface {
	Serialize(v D) ([]byte, error)
	Deserialize(raw []byte) (v D, ok bool, err error)
}

// JSON persists values as their encoding/json form. It is the default.
// Missing, empty and null documents hold no value.
type JSON[D any] struct{}

func (JSON[D]) Serialize(v D) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON[D]) Deserialize(raw []byte) (v D, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, false, nil
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}

	return v, true, nil
}

// Funcs builds a Serializer from two functions. A nil function falls back
// to JSON for that direction.
type Funcs[D any] struct {
	SerializeFunc   func(v D) ([]byte, error)
	DeserializeFunc func(raw []byte) (D, bool, error)
}

func (f Funcs[D]) Serialize(v D) ([]byte, error) {
	if f.SerializeFunc == nil {
		return JSON[D]{}.Serialize(v)
	}

	return f.SerializeFunc(v)
}

func (f Funcs[D]) Deserialize(raw []byte) (D, bool, error) {
	if f.DeserializeFunc == nil {
		return JSON[D]{}.Deserialize(raw)
	}

	return f.DeserializeFunc(raw)
}

var _ Serializer[string] = JSON[string]{}
var _ Serializer[string] = Funcs[string]{}
