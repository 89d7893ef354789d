package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Marshal serializes a value to the JSON blob format used for persisted state.
func Marshal[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a JSON blob into a value of type T.
func Unmarshal[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return v, nil
}

// SaveJSON marshals v and overwrites key with the result.
func SaveJSON[T any](ctx context.Context, c Cache, key string, v T, ttl time.Duration) error {
	data, err := Marshal(v)
	if err != nil {
		return NewOperationError("set", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// LoadJSON reads key and unmarshals it into T. Missing keys return ErrNotFound.
func LoadJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := Unmarshal[T](data)
	if err != nil {
		return v, NewOperationError("get", key, err)
	}
	return v, nil
}
