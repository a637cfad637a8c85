package execlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

// Follow streams events appended to the live log to fn until ctx is
// cancelled or fn returns an error. With fromStart the existing content is
// replayed first; otherwise only new events are delivered. Events that were
// rotated into an archive before they could be read from the live file are
// delivered from the archive, so rotation never drops or duplicates events.
func (w *Writer) Follow(ctx context.Context, fromStart bool, fn func(Event) error) error {
	// A directory is needed to watch; the live file may not exist yet.
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	t, err := w.newTailer(fromStart, fn)
	if err != nil {
		return err
	}
	if err := t.drain(ctx); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.offset = 0
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := t.drain(ctx); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("log watcher error", zap.Error(err))
		}
	}
}

// tailer remembers how far into the live file it has read and the newest
// archive that existed at that point.
type tailer struct {
	w       *Writer
	fn      func(Event) error
	offset  int64
	archive string
}

func (w *Writer) newTailer(fromStart bool, fn func(Event) error) (*tailer, error) {
	t := &tailer{w: w, fn: fn}
	archives, err := w.Archives()
	if err != nil {
		return nil, err
	}
	if n := len(archives); n > 0 {
		t.archive = archives[n-1]
	}
	if !fromStart {
		if info, err := os.Stat(w.path); err == nil {
			t.offset = info.Size()
		}
	}
	return t, nil
}

// drain delivers every complete line written since the last pass. It holds
// the shared log lock so a rotation cannot run halfway through.
func (t *tailer) drain(ctx context.Context) error {
	unlock, err := store.LockFile(ctx, t.w.lockPath(), store.Shared, t.w.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	if err := t.drainArchives(); err != nil {
		return err
	}
	return t.drainLive()
}

// drainArchives replays archives created since the last pass. The first one
// holds the live file as it was, so reading resumes at the old offset; later
// ones are read whole. Afterwards the live file is read from the top.
func (t *tailer) drainArchives() error {
	archives, err := t.w.Archives()
	if err != nil {
		return err
	}
	var fresh []string
	for _, a := range archives {
		if t.archive == "" || archiveKey(a) > archiveKey(t.archive) {
			fresh = append(fresh, a)
		}
	}
	for i, a := range fresh {
		skip := int64(0)
		if i == 0 {
			skip = t.offset
		}
		if err := t.replayArchive(a, skip); err != nil {
			return err
		}
		t.archive = a
		t.offset = 0
	}
	return nil
}

func (t *tailer) replayArchive(path string, skip int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.w.logger.Warn("skipping unreadable archive", zap.String("archive", path), zap.Error(err))
		return nil
	}
	defer gz.Close()

	if _, err := io.CopyN(io.Discard, gz, skip); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read archive: %w", err)
	}
	_, err = t.deliver(gz, path)
	return err
}

func (t *tailer) drainLive() error {
	f, err := os.Open(t.w.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.offset = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < t.offset {
		// Truncated without an archive, by hand or by another tool.
		t.offset = 0
	}
	if info.Size() == t.offset {
		return nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek log: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-t.offset))
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	// Leave a line that is still being written for the next pass.
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil
	}
	n, err := t.deliver(bytes.NewReader(data[:end+1]), t.w.path)
	t.offset += n
	return err
}

// deliver hands every complete line of r to fn and returns the bytes
// consumed.
func (t *tailer) deliver(r io.Reader, name string) (int64, error) {
	var fnErr error
	n, err := t.w.scan(r, name, func(e Event) bool {
		fnErr = t.fn(e)
		return fnErr == nil
	})
	if err != nil {
		return n, err
	}
	return n, fnErr
}
