package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockMode selects a shared or exclusive advisory lock.
type LockMode int

const (
	// Shared allows concurrent holders; it excludes Exclusive holders.
	Shared LockMode = iota
	// Exclusive excludes every other holder.
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// lockRetryDelay is the poll interval used while waiting for a lock with a
// timeout. Locks guard single small files, so contention clears quickly.
const lockRetryDelay = 10 * time.Millisecond

// LockFile takes an advisory lock on path, creating it (and its directory)
// if needed. A zero timeout blocks until the lock is granted. The returned
// function releases the lock and must be called exactly once.
//
// Each call opens its own descriptor, so two goroutines in one process
// contend the same way two processes do.
func LockFile(ctx context.Context, path string, mode LockMode, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(path)

	var err error
	if timeout > 0 {
		lctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var ok bool
		if mode == Exclusive {
			ok, err = fl.TryLockContext(lctx, lockRetryDelay)
		} else {
			ok, err = fl.TryRLockContext(lctx, lockRetryDelay)
		}
		switch {
		case err == nil && !ok:
			err = ErrLockTimeout
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = ErrLockTimeout
		}
	} else {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if mode == Exclusive {
			err = fl.Lock()
		} else {
			err = fl.RLock()
		}
	}
	if err != nil {
		_ = fl.Close()
		return nil, fmt.Errorf("%s lock on %s: %w", mode, path, err)
	}

	return func() { _ = fl.Unlock() }, nil
}
