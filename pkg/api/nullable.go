package api

import (
	"bytes"
	"encoding/json"
)

// Nullable tells an absent field (Set is false) apart from an explicit null
// (Set is true and Value is nil).
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

func NewNullable[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Value)
}
