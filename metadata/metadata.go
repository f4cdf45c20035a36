// Package metadata stores mutable per-operation values in a context so links
// earlier in a chain can hand values (auth tokens, headers) to later ones.
package metadata

import (
	"context"
	"sync"
)

type metadataKey struct{}

// MetadataKey is the context key the store lives under
var MetadataKey interface{} = metadataKey{}

type store struct {
	mx     sync.RWMutex
	values map[string]interface{}
}

// New creates a new metadata context
func New() context.Context {
	return NewWithContext(context.Background())
}

// NewWithContext creates a new metadata context from an existing one. An
// existing store is kept so values survive re-wrapping.
func NewWithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if getStore(ctx) != nil {
		return ctx
	}

	return context.WithValue(ctx, MetadataKey, &store{values: map[string]interface{}{}})
}

func getStore(ctx context.Context) *store {
	if ctx == nil {
		return nil
	}

	s, _ := ctx.Value(MetadataKey).(*store)
	return s
}

// Set sets the value in the metadata
func Set(ctx context.Context, key string, value interface{}) bool {
	if key == "" {
		return false
	}

	s := getStore(ctx)
	if s == nil {
		return false
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.values[key] = value
	return true
}

// Delete deletes the metadata
func Delete(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	s := getStore(ctx)
	if s == nil {
		return false
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if _, ok := s.values[key]; !ok {
		return false
	}

	delete(s.values, key)
	return true
}

// Read reads a value from the metadata
func Read(ctx context.Context, key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	s := getStore(ctx)
	if s == nil {
		return nil, false
	}

	s.mx.RLock()
	defer s.mx.RUnlock()

	val, ok := s.values[key]
	return val, ok
}

// ReadString reads a string from the metadata
func ReadString(ctx context.Context, key string) (string, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return "", false
	}

	v, ok := value.(string)
	return v, ok
}

// ReadBool reads a boolean from the metadata
func ReadBool(ctx context.Context, key string) (bool, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return false, false
	}

	v, ok := value.(bool)
	return v, ok
}

// ReadStringMap reads a map of strings, such as headers, from the metadata
func ReadStringMap(ctx context.Context, key string) (map[string]string, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return nil, false
	}

	v, ok := value.(map[string]string)
	return v, ok
}
