package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chisel/internal/checkpoint"
	"chisel/internal/diff"
	chiselerrors "chisel/internal/errors"
	"chisel/internal/index"
	"chisel/internal/provider"
	"chisel/internal/scheduler"
	"chisel/internal/workspace"
	shared "chisel/shared/types"
)

func setupEngine(t *testing.T, p provider.Provider) (*Engine, string) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	require.NoError(t, workspace.Initialize(root))
	ws, err := workspace.Open(root, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	backend, err := checkpoint.NewSnapshotBackend(db, checkpoint.SnapshotOptions{Root: root})
	require.NoError(t, err)
	store, err := checkpoint.NewStore(backend, checkpoint.NewLog(db), zap.NewNop())
	require.NoError(t, err)

	idx, err := index.NewIndex(db, provider.NewMockEmbedder(), zap.NewNop())
	require.NoError(t, err)

	diffEngine := diff.NewEngine()
	sched := scheduler.New(scheduler.Options{MaxConcurrency: 4}, diffEngine, zap.NewNop())

	eng, err := New(Deps{
		Scheduler:   sched,
		DiffEngine:  diffEngine,
		Checkpoints: store,
		Index:       idx,
		Provider:    p,
		Workspace:   ws,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	return eng, root
}

func seedFile(t *testing.T, root, name, content string) shared.FileTask {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	return shared.FileTask{
		Path:            name,
		OriginalContent: content,
		Instruction:     "uppercase the content",
	}
}

// upperProvider uppercases the file body embedded in the prompt; a
// body containing "boom" fails instead.
func upperProvider() *provider.MockProvider {
	p := provider.NewMockProvider()
	p.Respond = func(prompt string) (string, error) {
		_, body, found := strings.Cut(prompt, "---\n")
		if !found {
			return "", fmt.Errorf("malformed prompt")
		}
		if strings.Contains(body, "boom") {
			return "", fmt.Errorf("provider unavailable")
		}
		return strings.ToUpper(body), nil
	}
	return p
}

func TestExecuteMixedBatch(t *testing.T) {
	eng, root := setupEngine(t, upperProvider())

	tasks := []shared.FileTask{
		seedFile(t, root, "a.txt", "alpha\n"),
		seedFile(t, root, "b.txt", "boom\n"),
		seedFile(t, root, "c.txt", "gamma\n"),
	}

	result, err := eng.Execute(context.Background(), Request{Files: tasks, Mode: shared.ModeParallel})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Batch.Succeeded)
	assert.Equal(t, 1, result.Batch.Failed)
	assert.Equal(t, 0, result.Batch.Skipped)
	assert.Equal(t, chiselerrors.ErrorTypeProvider, chiselerrors.TypeOf(result.Batch.Results[1].Err))

	require.NotNil(t, result.Checkpoint)
	assert.Len(t, result.Diffs, 2)

	// Successful files are rewritten, the failed one stays untouched.
	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ALPHA\n", string(data))
	data, err = os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "boom\n", string(data))

	// The checkpoint message names what changed.
	assert.Contains(t, result.Checkpoint.Message, "a.txt")
	assert.Contains(t, result.Checkpoint.Message, "c.txt")
	assert.NotContains(t, result.Checkpoint.Message, "b.txt")
}

func TestExecuteNoSuccessesSkipsCheckpoint(t *testing.T) {
	eng, root := setupEngine(t, upperProvider())

	tasks := []shared.FileTask{seedFile(t, root, "only.txt", "boom\n")}

	result, err := eng.Execute(context.Background(), Request{Files: tasks, Mode: shared.ModeSequential})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Batch.Succeeded)
	assert.Nil(t, result.Checkpoint)
	assert.Empty(t, result.Diffs)

	history, err := eng.Checkpoints()
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecuteIdenticalOutputSkipsCheckpoint(t *testing.T) {
	p := provider.NewMockProvider()
	p.Respond = func(prompt string) (string, error) {
		_, body, _ := strings.Cut(prompt, "---\n")
		return body, nil
	}
	eng, root := setupEngine(t, p)

	tasks := []shared.FileTask{seedFile(t, root, "same.txt", "unchanged\n")}

	result, err := eng.Execute(context.Background(), Request{Files: tasks, Mode: shared.ModeSequential})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Batch.Succeeded)
	assert.Nil(t, result.Checkpoint)
	assert.Empty(t, result.Diffs)
}

func TestExecutePersistsFunctionReorder(t *testing.T) {
	original := "func alpha() {\n\treturn 1\n}\n\nfunc beta() {\n\treturn 2\n}\n"
	reordered := "func beta() {\n\treturn 2\n}\n\nfunc alpha() {\n\treturn 1\n}\n"

	p := provider.NewMockProvider()
	p.Respond = func(string) (string, error) { return reordered, nil }
	eng, root := setupEngine(t, p)

	tasks := []shared.FileTask{seedFile(t, root, "order.go", original)}
	tasks[0].Instruction = "move beta above alpha"

	result, err := eng.Execute(context.Background(), Request{
		Files:    tasks,
		Mode:     shared.ModeSequential,
		DiffMode: diff.ModeFunction,
	})
	require.NoError(t, err)

	// The content changed, so the write and checkpoint must happen even
	// when function-granularity diffing could understate the change.
	require.NotNil(t, result.Checkpoint)
	assert.NotEmpty(t, result.Diffs)

	data, err := os.ReadFile(filepath.Join(root, "order.go"))
	require.NoError(t, err)
	assert.Equal(t, reordered, string(data))
}

func TestExecuteIndexesChanges(t *testing.T) {
	eng, root := setupEngine(t, upperProvider())

	tasks := []shared.FileTask{seedFile(t, root, "indexed.txt", "hello world\n")}
	_, err := eng.Execute(context.Background(), Request{Files: tasks, Mode: shared.ModeSequential})
	require.NoError(t, err)

	matches, err := eng.Search(context.Background(), "indexed.txt hello", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "indexed.txt", matches[0].Entry.Path)
}

func TestExecuteThenRollback(t *testing.T) {
	eng, root := setupEngine(t, upperProvider())

	tasks := []shared.FileTask{seedFile(t, root, "r.txt", "original\n")}

	// First checkpoint captures the pre-edit tree.
	first, err := eng.Execute(context.Background(), Request{Files: tasks, Mode: shared.ModeSequential})
	require.NoError(t, err)
	require.NotNil(t, first.Checkpoint)

	second, err := eng.Execute(context.Background(), Request{
		Files: []shared.FileTask{{
			Path:            "r.txt",
			OriginalContent: "ORIGINAL\n",
			Instruction:     "lowercase it back",
		}},
		Mode: shared.ModeSequential,
	})
	require.NoError(t, err)
	// upperProvider uppercases, and the content is already upper, so
	// the second run is a no-op and keeps the history at one entry.
	assert.Nil(t, second.Checkpoint)

	cp, err := eng.Rollback(first.Checkpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Checkpoint.ID, cp.ID)

	data, err := os.ReadFile(filepath.Join(root, "r.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ORIGINAL\n", string(data))
}

func TestExecuteValidation(t *testing.T) {
	eng, _ := setupEngine(t, provider.NewMockProvider())

	_, err := eng.Execute(context.Background(), Request{Mode: shared.ModeSequential})
	assert.Equal(t, chiselerrors.ErrorTypeValidation, chiselerrors.TypeOf(err))

	_, err = eng.Execute(context.Background(), Request{
		Files: []shared.FileTask{{Path: "x.txt"}},
		Mode:  shared.Mode("turbo"),
	})
	assert.Equal(t, chiselerrors.ErrorTypeValidation, chiselerrors.TypeOf(err))
}

func TestExtractBody(t *testing.T) {
	assert.Equal(t, "plain\n", extractBody("plain\n"))
	assert.Equal(t, "x := 1", extractBody("```go\nx := 1\n```"))
	assert.Equal(t, "one\ntwo", extractBody("```\none\ntwo\n```\n"))
	// An unterminated fence is returned as-is.
	assert.Equal(t, "```go\nbroken", extractBody("```go\nbroken"))
}
