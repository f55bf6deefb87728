package scheduler

import (
	"context"
	"fmt"
	"sync"

	"chisel/internal/diff"
	"chisel/internal/errors"
	shared "chisel/shared/types"
)

// runSwarm processes every task once per specialization lane, then
// merges lane proposals per path. Lanes never see each other's output;
// merging happens in one dedicated conflict-resolution step.
func (s *Scheduler) runSwarm(ctx context.Context, tasks []shared.FileTask, runnable []bool, results []shared.TaskResult, fn TaskFunc) {
	laneResults := make([][]shared.TaskResult, len(tasks))
	for i := range tasks {
		if runnable[i] {
			laneResults[i] = make([]shared.TaskResult, len(s.lanes))
		}
	}

	type job struct{ ti, li int }
	jobs := make(chan job)
	var wg sync.WaitGroup

	workers := s.maxConcurrency
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					laneResults[j.ti][j.li] = shared.TaskResult{
						Path:       tasks[j.ti].Path,
						State:      shared.StateSkipped,
						SkipReason: SkipCancelled,
						Lane:       s.lanes[j.li],
					}
					continue
				}
				laneResults[j.ti][j.li] = s.runTask(ctx, tasks[j.ti], s.lanes[j.li], fn)
			}
		}()
	}

	for i := range tasks {
		if !runnable[i] {
			continue
		}
		for li := range s.lanes {
			jobs <- job{ti: i, li: li}
		}
	}
	close(jobs)
	wg.Wait()

	for i := range tasks {
		if runnable[i] {
			results[i] = s.mergeLanes(tasks[i], laneResults[i])
		}
	}
}

// mergeLanes combines lane proposals for one path. Non-overlapping
// hunks from different lanes are concatenated and replayed onto the
// original; overlapping edits are a conflict, surfaced as a failed
// result rather than silently picking a winner.
func (s *Scheduler) mergeLanes(task shared.FileTask, laneResults []shared.TaskResult) shared.TaskResult {
	var succeeded []shared.TaskResult
	var firstErr error
	cancelled := false

	for _, lr := range laneResults {
		switch lr.State {
		case shared.StateSucceeded:
			succeeded = append(succeeded, lr)
		case shared.StateFailed:
			if firstErr == nil {
				firstErr = lr.Err
			}
		case shared.StateSkipped:
			if lr.SkipReason == SkipCancelled {
				cancelled = true
			}
		}
	}

	if len(succeeded) == 0 {
		if cancelled {
			return shared.TaskResult{
				Path:       task.Path,
				State:      shared.StateSkipped,
				SkipReason: SkipCancelled,
			}
		}
		if firstErr == nil {
			firstErr = errors.Internal("no lane produced a result", nil)
		}
		return shared.TaskResult{Path: task.Path, State: shared.StateFailed, Err: firstErr}
	}
	if cancelled {
		// The batch was cancelled before every lane ran; a partial
		// swarm merge would not be the reviewed result the mode
		// promises.
		return shared.TaskResult{
			Path:       task.Path,
			State:      shared.StateSkipped,
			SkipReason: SkipCancelled,
		}
	}

	// Lanes proposing byte-identical content are one proposal.
	distinct := succeeded[:0:0]
	seen := make(map[string]bool)
	for _, lr := range succeeded {
		if seen[lr.NewContent] {
			continue
		}
		seen[lr.NewContent] = true
		distinct = append(distinct, lr)
	}

	type laneHunks struct {
		lane  string
		hunks []diff.Hunk
	}
	var proposals []laneHunks
	for _, lr := range distinct {
		result, err := s.diffEngine.Diff(task.OriginalContent, lr.NewContent, diff.ModeFile)
		if err != nil {
			return shared.TaskResult{Path: task.Path, State: shared.StateFailed, Err: err}
		}
		if result.Empty() {
			continue
		}
		proposals = append(proposals, laneHunks{lane: lr.Lane, hunks: result.Hunks})
	}

	if len(proposals) == 0 {
		// Every lane left the file as it was.
		return shared.TaskResult{
			Path:       task.Path,
			State:      shared.StateSucceeded,
			NewContent: task.OriginalContent,
		}
	}

	var merged []diff.Hunk
	for pi, p := range proposals {
		for _, h := range p.hunks {
			for qi := 0; qi < pi; qi++ {
				for _, prev := range proposals[qi].hunks {
					if diff.Overlaps(prev, h) {
						return shared.TaskResult{
							Path:  task.Path,
							State: shared.StateFailed,
							Err: errors.Conflict(fmt.Sprintf(
								"lanes %s and %s propose overlapping edits to %s around line %d",
								proposals[qi].lane, p.lane, task.Path, h.StartLine)),
						}
					}
				}
			}
			merged = append(merged, h)
		}
	}

	content, err := diff.Apply(task.OriginalContent, merged)
	if err != nil {
		return shared.TaskResult{
			Path:  task.Path,
			State: shared.StateFailed,
			Err:   errors.Conflict(fmt.Sprintf("merging lane edits for %s: %v", task.Path, err)),
		}
	}

	return shared.TaskResult{
		Path:       task.Path,
		State:      shared.StateSucceeded,
		NewContent: content,
	}
}
