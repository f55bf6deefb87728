package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	chiselerrors "chisel/internal/errors"
)

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()

	root := t.TempDir()
	db := setupTestDB(t)

	backend, err := NewSnapshotBackend(db, SnapshotOptions{Root: root})
	require.NoError(t, err)

	store, err := NewStore(backend, NewLog(db), zap.NewNop())
	require.NoError(t, err)

	return store, root
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	return string(data)
}

func TestStoreCreateAndRollback(t *testing.T) {
	store, root := setupStore(t)

	writeFile(t, root, "a.txt", "first version\n")
	cp1, err := store.CreateCheckpoint("initial")
	require.NoError(t, err)
	assert.NotEmpty(t, cp1.ID)
	assert.NotEmpty(t, cp1.TreeRef)

	writeFile(t, root, "a.txt", "second version\n")
	writeFile(t, root, "b.txt", "new file\n")
	cp2, err := store.CreateCheckpoint("edits")
	require.NoError(t, err)
	assert.NotEqual(t, cp1.TreeRef, cp2.TreeRef)

	restored, err := store.Rollback(cp1.ID)
	require.NoError(t, err)
	assert.Equal(t, cp1.ID, restored.ID)
	assert.Equal(t, "first version\n", readFile(t, root, "a.txt"))
	_, err = os.Stat(filepath.Join(root, "b.txt"))
	assert.True(t, os.IsNotExist(err), "b.txt should be gone after rollback")

	// Rollback is idempotent: doing it again leaves the identical tree.
	_, err = store.Rollback(cp1.ID)
	require.NoError(t, err)
	assert.Equal(t, "first version\n", readFile(t, root, "a.txt"))
}

func TestStoreNoopCheckpoint(t *testing.T) {
	store, root := setupStore(t)

	writeFile(t, root, "a.txt", "content\n")
	cp1, err := store.CreateCheckpoint("first")
	require.NoError(t, err)

	// No intervening change: same tree ref, no error.
	cp2, err := store.CreateCheckpoint("again")
	require.NoError(t, err)
	assert.Equal(t, cp1.TreeRef, cp2.TreeRef)

	history, err := store.List()
	require.NoError(t, err)
	assert.Len(t, history, 1, "no-op checkpoint must not grow history")
}

func TestStoreRollbackByTimestamp(t *testing.T) {
	store, root := setupStore(t)

	writeFile(t, root, "a.txt", "v1\n")
	cp1, err := store.CreateCheckpoint("v1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	between := time.Now()
	time.Sleep(10 * time.Millisecond)

	writeFile(t, root, "a.txt", "v2\n")
	_, err = store.CreateCheckpoint("v2")
	require.NoError(t, err)

	restored, err := store.Rollback(between.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.Equal(t, cp1.ID, restored.ID)
	assert.Equal(t, "v1\n", readFile(t, root, "a.txt"))
}

func TestStoreRollbackNotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Rollback("no-such-checkpoint")
	require.Error(t, err)
	assert.Equal(t, chiselerrors.ErrorTypeCheckpointNotFound, chiselerrors.TypeOf(err))
}

// blockingBackend parks Commit until released, to exercise the
// process-wide serialization guard.
type blockingBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Commit(string) (string, error) {
	close(b.entered)
	<-b.release
	return "ref-1", nil
}
func (b *blockingBackend) Checkout(string) error          { return nil }
func (b *blockingBackend) CurrentRef() (string, error)    { return "", nil }
func (b *blockingBackend) CurrentBranch() (string, error) { return "main", nil }
func (b *blockingBackend) IsClean() (bool, error)         { return true, nil }

func TestStoreSerializesCreation(t *testing.T) {
	db := setupTestDB(t)
	backend := &blockingBackend{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store, err := NewStore(backend, NewLog(db), zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.CreateCheckpoint("slow")
		assert.NoError(t, err)
	}()

	<-backend.entered
	_, err = store.CreateCheckpoint("concurrent")
	require.Error(t, err)
	assert.Equal(t, chiselerrors.ErrorTypeDirtyState, chiselerrors.TypeOf(err))

	close(backend.release)
	wg.Wait()
}

func TestSnapshotBackend(t *testing.T) {
	root := t.TempDir()
	db := setupTestDB(t)

	backend, err := NewSnapshotBackend(db, SnapshotOptions{Root: root, MinSize: 64})
	require.NoError(t, err)

	t.Run("CleanTracking", func(t *testing.T) {
		clean, err := backend.IsClean()
		require.NoError(t, err)
		assert.True(t, clean, "empty tree with no head is clean")

		writeFile(t, root, "x.txt", "hello\n")
		clean, err = backend.IsClean()
		require.NoError(t, err)
		assert.False(t, clean)

		_, err = backend.Commit("snapshot")
		require.NoError(t, err)
		clean, err = backend.IsClean()
		require.NoError(t, err)
		assert.True(t, clean)
	})

	t.Run("CompressedBlobRoundTrip", func(t *testing.T) {
		big := strings.Repeat("the same line of text\n", 64)
		writeFile(t, root, "big.txt", big)

		ref, err := backend.Commit("big file")
		require.NoError(t, err)

		writeFile(t, root, "big.txt", "overwritten\n")
		require.NoError(t, backend.Checkout(ref))
		assert.Equal(t, big, readFile(t, root, "big.txt"))
	})

	t.Run("EmptyCommitRejected", func(t *testing.T) {
		// Tree already matches head after the checkout above.
		_, err := backend.Commit("nothing new")
		assert.ErrorIs(t, err, ErrNoChanges)
	})
}

func TestGitBackend(t *testing.T) {
	root := t.TempDir()

	backend, err := OpenGit(root)
	require.NoError(t, err)

	writeFile(t, root, "main.go", "package main\n")
	ref1, err := backend.Commit("initial")
	require.NoError(t, err)
	assert.NotEmpty(t, ref1)

	current, err := backend.CurrentRef()
	require.NoError(t, err)
	assert.Equal(t, ref1, current)

	clean, err := backend.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	clean, err = backend.IsClean()
	require.NoError(t, err)
	assert.False(t, clean)

	ref2, err := backend.Commit("add main")
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref2)

	_, err = backend.Commit("empty")
	assert.ErrorIs(t, err, ErrNoChanges)

	require.NoError(t, backend.Checkout(ref1))
	assert.Equal(t, "package main\n", readFile(t, root, "main.go"))
}
