package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore keeps the encoded document in memory. Every Read decodes a
// fresh copy, so callers never alias the stored document.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	data    []byte
	initial func() T
	codec   Codec
}

// NewMemoryStore creates an empty in-memory store. initial follows the same
// rules as NewFileStore.
func NewMemoryStore[T any](initial func() T) *MemoryStore[T] {
	return &MemoryStore[T]{
		initial: initial,
		codec:   JSONCodec{},
	}
}

// SetRaw replaces the stored bytes verbatim. Tests use it to simulate a
// corrupt document.
func (s *MemoryStore[T]) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// Read implements Store.
func (s *MemoryStore[T]) Read(ctx context.Context) (T, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return s.Update(ctx, func(*T) error { return ErrSkipWrite })
	}
	return s.decode(data)
}

// Write implements Store.
func (s *MemoryStore[T]) Write(ctx context.Context, doc T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Update implements Store.
func (s *MemoryStore[T]) Update(ctx context.Context, fn func(doc *T) error) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists := s.data != nil
	var doc T
	if exists {
		var err error
		if doc, err = s.decode(s.data); err != nil {
			return zero, err
		}
	} else {
		if s.initial == nil {
			return zero, ErrNotFound
		}
		doc = s.initial()
	}

	if fn != nil {
		if err := fn(&doc); err != nil {
			if !errors.Is(err, ErrSkipWrite) {
				return zero, err
			}
			if exists {
				return doc, nil
			}
		}
	}

	data, err := s.codec.Marshal(doc)
	if err != nil {
		return zero, err
	}
	s.data = data
	return s.decode(data)
}

func (s *MemoryStore[T]) decode(data []byte) (T, error) {
	var doc T
	if err := s.codec.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return doc, nil
}
