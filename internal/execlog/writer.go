package execlog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/store"
)

const (
	// DefaultMaxSize is the live file size that triggers rotation.
	DefaultMaxSize int64 = 10 * 1024 * 1024
	// DefaultRetention is how long logs survive CleanupOldLogs.
	DefaultRetention = 30 * 24 * time.Hour

	archiveTimeLayout = "20060102_150405"
	logGlob           = "execution_*.jsonl*"
)

var (
	// ErrInvalidWorkflowID rejects ids that cannot be used in a file name.
	ErrInvalidWorkflowID = errors.New("invalid workflow id")
	// ErrInvalidEvent rejects events without a type or status.
	ErrInvalidEvent = errors.New("invalid event")
)

// Option configures a Writer.
type Option func(*Writer)

// WithMaxSize sets the rotation threshold in bytes.
func WithMaxSize(n int64) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxSize = n
		}
	}
}

// WithRetention sets the age after which CleanupOldLogs removes files.
func WithRetention(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.retention = d
		}
	}
}

// WithLockTimeout bounds how long appends wait for the log lock.
func WithLockTimeout(d time.Duration) Option {
	return func(w *Writer) { w.lockTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer appends events to the log of one workflow.
type Writer struct {
	workflowID  string
	dir         string
	path        string
	maxSize     int64
	retention   time.Duration
	lockTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewWriter returns a writer for execution_<workflowID>.jsonl inside dir.
// Nothing touches the disk until the first write; reads of a missing
// directory see an empty log.
func NewWriter(workflowID, dir string, logger *zap.Logger, opts ...Option) (*Writer, error) {
	if err := ValidateWorkflowID(workflowID); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Writer{
		workflowID: workflowID,
		dir:        dir,
		path:       filepath.Join(dir, "execution_"+workflowID+".jsonl"),
		maxSize:    DefaultMaxSize,
		retention:  DefaultRetention,
		now:        time.Now,
		logger:     logger.With(zap.String("workflow.id", workflowID)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ValidateWorkflowID rejects empty ids and ids containing path separators
// or glob metacharacters.
func ValidateWorkflowID(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidWorkflowID, id)
	}
	if strings.ContainsAny(id, `/\*?[]{}`) {
		return fmt.Errorf("%w: %q", ErrInvalidWorkflowID, id)
	}
	return nil
}

// WorkflowID returns the workflow the writer logs for.
func (w *Writer) WorkflowID() string { return w.workflowID }

// Path returns the live log file.
func (w *Writer) Path() string { return w.path }

// Dir returns the log directory.
func (w *Writer) Dir() string { return w.dir }

func (w *Writer) dirExists() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}

// lockPath starts with a dot so retention globs never match it.
func (w *Writer) lockPath() string {
	return filepath.Join(w.dir, ".execution_"+w.workflowID+".jsonl.lock")
}

// WriteEvent stamps ev with a timestamp, event id and the writer's workflow
// id, appends it as one line and rotates the file once it reaches the size
// threshold. The stored event is returned.
func (w *Writer) WriteEvent(ctx context.Context, ev Event) (Event, error) {
	if ev.EventType == "" || ev.Status == "" {
		return Event{}, fmt.Errorf("%w: event_type and status are required", ErrInvalidEvent)
	}

	ev.WorkflowID = w.workflowID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now().UTC()
	}
	if ev.EventID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		ev.EventID = id.String()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	unlock, err := store.LockFile(ctx, w.lockPath(), store.Exclusive, w.lockTimeout)
	if err != nil {
		return Event{}, err
	}
	defer unlock()

	size, err := w.appendLocked(line)
	if err != nil {
		return Event{}, err
	}

	if size >= w.maxSize {
		if _, err := w.rotateLocked(); err != nil {
			// The event itself is durable; rotation is retried on the next write.
			w.logger.Warn("log rotation failed", zap.Error(err))
		}
	}
	return ev, nil
}

func (w *Writer) appendLocked(line []byte) (int64, error) {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log: %w", err)
	}
	return info.Size(), nil
}

// Rotate compresses the live file into a timestamped archive and truncates
// it. It returns the archive path, or "" when there was nothing to rotate.
func (w *Writer) Rotate(ctx context.Context) (string, error) {
	if !w.dirExists() {
		return "", nil
	}
	unlock, err := store.LockFile(ctx, w.lockPath(), store.Exclusive, w.lockTimeout)
	if err != nil {
		return "", err
	}
	defer unlock()

	return w.rotateLocked()
}

// rotateLocked runs with the exclusive lock held, so no append can land
// between compressing the live file and truncating it.
func (w *Writer) rotateLocked() (string, error) {
	src, err := os.Open(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open log: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}

	archive, dst, err := w.createArchive()
	if err != nil {
		return "", err
	}

	gz := gzip.NewWriter(dst)
	_, copyErr := io.Copy(gz, src)
	if copyErr == nil {
		copyErr = gz.Close()
	}
	if copyErr == nil {
		copyErr = dst.Sync()
	}
	closeErr := dst.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(archive)
		return "", fmt.Errorf("compress log: %w", copyErr)
	}

	if err := os.Truncate(w.path, 0); err != nil {
		return "", fmt.Errorf("truncate log: %w", err)
	}

	w.logger.Info("rotated execution log",
		zap.String("archive", archive),
		zap.Int64("bytes", info.Size()),
	)
	return archive, nil
}

// createArchive opens a fresh archive file, adding a _<n> suffix when an
// archive from the same second already exists.
func (w *Writer) createArchive() (string, *os.File, error) {
	stamp := w.now().UTC().Format(archiveTimeLayout)
	for n := 0; n < 1000; n++ {
		name := fmt.Sprintf("execution_%s.%s.jsonl.gz", w.workflowID, stamp)
		if n > 0 {
			name = fmt.Sprintf("execution_%s.%s_%d.jsonl.gz", w.workflowID, stamp, n)
		}
		path := filepath.Join(w.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create archive: %w", err)
		}
		return path, f, nil
	}
	return "", nil, fmt.Errorf("create archive: too many archives for %s", stamp)
}

// archiveStamp matches the part of an archive name between the workflow id
// and the extension.
var archiveStamp = regexp.MustCompile(`^\d{8}_\d{6}(_\d+)?$`)

// Archives lists the rotated archives of this workflow, oldest first. Ids
// may contain dots, so archives of workflow "a.b" also match the glob for
// "a"; only names whose remainder is a timestamp are kept.
func (w *Writer) Archives() ([]string, error) {
	prefix := "execution_" + w.workflowID + "."
	candidates, err := doublestar.FilepathGlob(filepath.Join(w.dir, prefix+"*.jsonl.gz"))
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	matches := candidates[:0]
	for _, path := range candidates {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".jsonl.gz")
		if archiveStamp.MatchString(stamp) {
			matches = append(matches, path)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return archiveKey(matches[i]) < archiveKey(matches[j])
	})
	return matches, nil
}

// archiveKey makes "<stamp>_10" sort after "<stamp>_9".
func archiveKey(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".jsonl.gz")
	stamp := base[strings.LastIndex(base, ".")+1:]
	seq := 0
	if len(stamp) > len(archiveTimeLayout)+1 {
		seq, _ = strconv.Atoi(stamp[len(archiveTimeLayout)+1:])
		stamp = stamp[:len(archiveTimeLayout)]
	}
	return fmt.Sprintf("%s_%06d", stamp, seq)
}

// ReadEvents returns the events matching q in write order. Lines that fail
// to parse, such as a partial line left by a crash, are skipped.
func (w *Writer) ReadEvents(ctx context.Context, q Query) ([]Event, error) {
	if !w.dirExists() {
		return []Event{}, nil
	}
	unlock, err := store.LockFile(ctx, w.lockPath(), store.Shared, w.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	events := []Event{}
	full := func() bool { return q.Limit > 0 && len(events) >= q.Limit }
	collect := func(e Event) bool {
		if q.matches(&e) {
			events = append(events, e)
		}
		return !full()
	}

	if q.IncludeArchived {
		archives, err := w.Archives()
		if err != nil {
			return nil, err
		}
		for _, a := range archives {
			if err := w.scanArchive(a, collect); err != nil {
				return nil, err
			}
			if full() {
				return events, nil
			}
		}
	}

	f, err := os.Open(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return events, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := w.scan(f, w.path, collect); err != nil {
		return nil, err
	}
	return events, nil
}

func (w *Writer) scanArchive(path string, fn func(Event) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		w.logger.Warn("skipping unreadable archive", zap.String("archive", path), zap.Error(err))
		return nil
	}
	defer gz.Close()

	_, err = w.scan(gz, path, fn)
	return err
}

// scan decodes complete lines from r until fn returns false. It returns the
// number of bytes consumed; a trailing line without a newline is left
// unconsumed.
func (w *Writer) scan(r io.Reader, name string, fn func(Event) bool) (int64, error) {
	br := bufio.NewReader(r)
	var consumed int64
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			consumed += int64(len(line))
			if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
				var e Event
				if jerr := json.Unmarshal([]byte(trimmed), &e); jerr != nil {
					w.logger.Warn("skipped invalid log line", zap.String("file", name), zap.Error(jerr))
				} else if !fn(e) {
					return consumed, nil
				}
			}
		} else if len(line) > 0 {
			// Partial final line; try it anyway so a file written without a
			// trailing newline is still readable.
			var e Event
			if jerr := json.Unmarshal(line, &e); jerr == nil {
				consumed += int64(len(line))
				if !fn(e) {
					return consumed, nil
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read %s: %w", name, err)
		}
	}
}

// Stats recomputes the workflow statistics from the live log.
func (w *Writer) Stats(ctx context.Context) (Stats, error) {
	events, err := w.ReadEvents(ctx, Query{})
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(events), nil
}

// CleanupOldLogs removes log files in the writer's directory older than the
// configured retention.
func (w *Writer) CleanupOldLogs() ([]string, error) {
	return CleanupOldLogs(w.dir, w.retention, w.now(), w.logger)
}

// CleanupOldLogs deletes every execution_*.jsonl* file in dir, live or
// archived, whose modification time is older than now-retention. It returns
// the removed paths.
func CleanupOldLogs(dir string, retention time.Duration, now time.Time, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, logGlob))
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	cutoff := now.Add(-retention)
	var removed []string
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
		logger.Info("deleted old log file", zap.String("file", path))
	}
	return removed, nil
}
