package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Option configures a FileStore.
type Option func(*fileOptions)

type fileOptions struct {
	codec       Codec
	lockTimeout time.Duration
	perm        os.FileMode
}

// WithCodec overrides the codec picked from the file extension.
func WithCodec(c Codec) Option {
	return func(o *fileOptions) { o.codec = c }
}

// WithLockTimeout bounds how long Read, Write and Update wait for the lock.
// Zero (the default) waits indefinitely.
func WithLockTimeout(d time.Duration) Option {
	return func(o *fileOptions) { o.lockTimeout = d }
}

// WithPermissions sets the mode of newly written documents (default 0644).
func WithPermissions(perm os.FileMode) Option {
	return func(o *fileOptions) { o.perm = perm }
}

// FileStore persists a document of type T in a single file.
type FileStore[T any] struct {
	path    string
	initial func() T
	opts    fileOptions
}

// NewFileStore creates a store for path. When initial is non-nil the file is
// created from it on first use; otherwise reading a missing file returns
// ErrNotFound.
func NewFileStore[T any](path string, initial func() T, opts ...Option) *FileStore[T] {
	o := fileOptions{
		codec: CodecForPath(path),
		perm:  0o644,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &FileStore[T]{
		path:    path,
		initial: initial,
		opts:    o,
	}
}

// Path returns the document path.
func (s *FileStore[T]) Path() string {
	return s.path
}

func (s *FileStore[T]) lockPath() string {
	return s.path + ".lock"
}

// Read implements Store.
func (s *FileStore[T]) Read(ctx context.Context) (T, error) {
	var zero T

	unlock, err := LockFile(ctx, s.lockPath(), Shared, s.opts.lockTimeout)
	if err != nil {
		return zero, err
	}
	doc, exists, err := s.load()
	unlock()
	if err != nil {
		return zero, err
	}
	if exists {
		return doc, nil
	}
	if s.initial == nil {
		return zero, fmt.Errorf("%s: %w", s.path, ErrNotFound)
	}

	// First use: materialise the initial document under the exclusive lock.
	return s.Update(ctx, func(*T) error { return ErrSkipWrite })
}

// Write implements Store.
func (s *FileStore[T]) Write(ctx context.Context, doc T) error {
	unlock, err := LockFile(ctx, s.lockPath(), Exclusive, s.opts.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	return s.save(doc)
}

// Update implements Store.
func (s *FileStore[T]) Update(ctx context.Context, fn func(doc *T) error) (T, error) {
	var zero T

	unlock, err := LockFile(ctx, s.lockPath(), Exclusive, s.opts.lockTimeout)
	if err != nil {
		return zero, err
	}
	defer unlock()

	doc, exists, err := s.load()
	if err != nil {
		return zero, err
	}
	if !exists {
		if s.initial == nil {
			return zero, fmt.Errorf("%s: %w", s.path, ErrNotFound)
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

	if err := s.save(doc); err != nil {
		return zero, err
	}
	return doc, nil
}

// load reads and decodes the document. The caller holds the lock.
func (s *FileStore[T]) load() (T, bool, error) {
	var doc T

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("read %s: %w", s.path, err)
	}

	if err := s.opts.codec.Unmarshal(data, &doc); err != nil {
		return doc, true, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}
	return doc, true, nil
}

// save encodes and atomically replaces the document. The caller holds the
// exclusive lock.
func (s *FileStore[T]) save(doc T) error {
	data, err := s.opts.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	return WriteFileAtomic(s.path, data, s.opts.perm)
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it, and renames it over path. Readers see either the old or the new
// content, never a mix.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for a rename. Not every platform
// supports fsync on directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
