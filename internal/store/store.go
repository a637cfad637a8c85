package store

import (
	"context"
	"errors"
)

var (
	// ErrCorruptState indicates the document on disk could not be decoded.
	ErrCorruptState = errors.New("corrupt state document")

	// ErrNotFound indicates the document does not exist and the store has no
	// initial document to create it from.
	ErrNotFound = errors.New("document not found")

	// ErrLockTimeout indicates the advisory lock could not be acquired before
	// the configured timeout elapsed.
	ErrLockTimeout = errors.New("timed out acquiring document lock")
)

// Store reads and writes one document of type T.
type Store[T any] interface {
	// Read returns the current document under a shared lock.
	Read(ctx context.Context) (T, error)

	// Write replaces the document atomically under an exclusive lock.
	Write(ctx context.Context, doc T) error

	// Update applies fn to the current document and persists the result,
	// holding the exclusive lock for the whole sequence. If fn returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, fn func(doc *T) error) (T, error)
}

// ErrSkipWrite may be returned from an Update callback to release the lock
// without rewriting an unchanged document. Update then returns a nil error.
var ErrSkipWrite = errors.New("skip write")
