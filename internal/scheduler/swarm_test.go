package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chisel/internal/errors"
	shared "chisel/shared/types"
)

func TestSwarmMergesNonOverlappingLanes(t *testing.T) {
	s := New(Options{MaxConcurrency: 4, Lanes: []string{"correctness", "style"}}, nil, nil)

	tasks := []shared.FileTask{
		{Path: "a.go", OriginalContent: "one\ntwo\nthree"},
	}

	fn := func(_ context.Context, task shared.FileTask, lane string) (string, error) {
		switch lane {
		case "correctness":
			return "ONE\ntwo\nthree", nil
		case "style":
			return "one\ntwo\nTHREE", nil
		}
		return task.OriginalContent, nil
	}

	batch, err := s.Run(context.Background(), tasks, shared.ModeSwarm, fn)
	require.NoError(t, err)

	require.Equal(t, shared.StateSucceeded, batch.Results[0].State)
	assert.Equal(t, "ONE\ntwo\nTHREE", batch.Results[0].NewContent)
}

func TestSwarmConflictingLanes(t *testing.T) {
	s := New(Options{MaxConcurrency: 4, Lanes: []string{"correctness", "performance"}}, nil, nil)

	tasks := []shared.FileTask{
		{Path: "conflicted.go", OriginalContent: "one\ntwo"},
		{Path: "clean.go", OriginalContent: "alpha\nbeta"},
	}

	fn := func(_ context.Context, task shared.FileTask, lane string) (string, error) {
		if task.Path == "conflicted.go" {
			// Both lanes rewrite line 1, differently.
			if lane == "correctness" {
				return "AAA\ntwo", nil
			}
			return "BBB\ntwo", nil
		}
		// Only one lane touches the clean file.
		if lane == "correctness" {
			return "ALPHA\nbeta", nil
		}
		return task.OriginalContent, nil
	}

	batch, err := s.Run(context.Background(), tasks, shared.ModeSwarm, fn)
	require.NoError(t, err)

	conflicted := batch.Results[0]
	assert.Equal(t, shared.StateFailed, conflicted.State)
	assert.Equal(t, errors.ErrorTypeConflict, errors.TypeOf(conflicted.Err))

	clean := batch.Results[1]
	assert.Equal(t, shared.StateSucceeded, clean.State)
	assert.Equal(t, "ALPHA\nbeta", clean.NewContent)
}

func TestSwarmIdenticalProposalsAreOneProposal(t *testing.T) {
	s := New(Options{Lanes: []string{"a", "b", "c"}}, nil, nil)

	tasks := []shared.FileTask{{Path: "x.go", OriginalContent: "old"}}

	// Every lane lands on the same content; that is agreement, not a
	// conflict.
	fn := func(_ context.Context, _ shared.FileTask, _ string) (string, error) {
		return "new", nil
	}

	batch, err := s.Run(context.Background(), tasks, shared.ModeSwarm, fn)
	require.NoError(t, err)
	assert.Equal(t, shared.StateSucceeded, batch.Results[0].State)
	assert.Equal(t, "new", batch.Results[0].NewContent)
}

func TestSwarmAllLanesFail(t *testing.T) {
	s := New(Options{Lanes: []string{"a", "b"}}, nil, nil)

	tasks := []shared.FileTask{{Path: "x.go", OriginalContent: "old"}}

	fn := func(_ context.Context, _ shared.FileTask, _ string) (string, error) {
		return "", errors.Provider("no lane capacity", nil)
	}

	batch, err := s.Run(context.Background(), tasks, shared.ModeSwarm, fn)
	require.NoError(t, err)
	assert.Equal(t, shared.StateFailed, batch.Results[0].State)
	assert.Equal(t, errors.ErrorTypeProvider, errors.TypeOf(batch.Results[0].Err))
}

func TestSwarmLanesLeavingFileUntouched(t *testing.T) {
	s := New(Options{Lanes: []string{"a", "b"}}, nil, nil)

	tasks := []shared.FileTask{{Path: "x.go", OriginalContent: "keep\nme"}}

	fn := func(_ context.Context, task shared.FileTask, _ string) (string, error) {
		return task.OriginalContent, nil
	}

	batch, err := s.Run(context.Background(), tasks, shared.ModeSwarm, fn)
	require.NoError(t, err)
	assert.Equal(t, shared.StateSucceeded, batch.Results[0].State)
	assert.Equal(t, "keep\nme", batch.Results[0].NewContent)
}
