package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Version string         `json:"version" yaml:"version"`
	Count   int            `json:"count" yaml:"count"`
	Tags    map[string]int `json:"tags" yaml:"tags"`
}

func newCounterDoc() counterDoc {
	return counterDoc{Version: "1.0", Tags: map[string]int{}}
}

func TestFileStore_Read_CreatesInitialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "doc.json")
	s := NewFileStore(path, newCounterDoc)

	doc, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0", doc.Version)

	_, err = os.Stat(path)
	require.NoError(t, err, "first use should materialise the file")
}

func TestFileStore_Read_MissingWithoutInitial(t *testing.T) {
	s := NewFileStore[counterDoc](filepath.Join(t.TempDir(), "doc.json"), nil)

	_, err := s.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_Read_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path, newCounterDoc)
	_, err := s.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptState))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "a failed read must not touch the file")
}

func TestFileStore_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s := NewFileStore(path, newCounterDoc)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, counterDoc{Version: "1.0", Count: 7, Tags: map[string]int{"a": 1}}))

	doc, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, doc.Count)
	assert.Equal(t, 1, doc.Tags["a"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not be left behind")
	}
}

func TestFileStore_Update_ErrorLeavesDocumentUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s := NewFileStore(path, newCounterDoc)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, counterDoc{Version: "1.0", Count: 3}))

	boom := errors.New("boom")
	_, err := s.Update(ctx, func(doc *counterDoc) error {
		doc.Count = 100
		return boom
	})
	require.ErrorIs(t, err, boom)

	doc, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Count)
}

func TestFileStore_Update_SkipWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	s := NewFileStore(path, newCounterDoc)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, counterDoc{Version: "1.0", Count: 1}))

	before, err := os.Stat(path)
	require.NoError(t, err)

	doc, err := s.Update(ctx, func(doc *counterDoc) error { return ErrSkipWrite })
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Count)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "skip must not rename a new file into place")
}

func TestFileStore_Update_ConcurrentIncrementsAreNotLost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate store values mimic separate hook processes.
			s := NewFileStore(path, newCounterDoc)
			for i := 0; i < perWorker; i++ {
				_, err := s.Update(ctx, func(doc *counterDoc) error {
					doc.Count++
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	doc, err := NewFileStore(path, newCounterDoc).Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, doc.Count)
}

func TestFileStore_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	ctx := context.Background()

	unlock, err := LockFile(ctx, path+".lock", Exclusive, 0)
	require.NoError(t, err)
	defer unlock()

	s := NewFileStore(path, newCounterDoc, WithLockTimeout(50*time.Millisecond))
	_, err = s.Read(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
}

func TestFileStore_SharedLocksDoNotBlockEachOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	ctx := context.Background()
	s := NewFileStore(path, newCounterDoc, WithLockTimeout(time.Second))
	require.NoError(t, s.Write(ctx, newCounterDoc()))

	unlock, err := LockFile(ctx, path+".lock", Shared, 0)
	require.NoError(t, err)
	defer unlock()

	_, err = s.Read(ctx)
	require.NoError(t, err)
}

func TestFileStore_YAMLCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"2.0\"\ncount: 4\n"), 0o644))

	s := NewFileStore[counterDoc](path, nil)
	doc, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0", doc.Version)
	assert.Equal(t, 4, doc.Count)
}

func TestCodecForPath(t *testing.T) {
	assert.IsType(t, YAMLCodec{}, CodecForPath("graph.yaml"))
	assert.IsType(t, YAMLCodec{}, CodecForPath("graph.YML"))
	assert.IsType(t, JSONCodec{}, CodecForPath("graph.json"))
	assert.IsType(t, JSONCodec{}, CodecForPath("graph"))
}

func TestWriteFileAtomic_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.md")
	require.NoError(t, WriteFileAtomic(path, []byte("# hi\n"), 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hi\n", string(data))
}
