// Package scheduler executes file-processing tasks under one of four
// concurrency strategies, aggregating per-task outcomes into a single
// batch result that always covers every input task in input order.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"chisel/internal/diff"
	"chisel/internal/errors"
	shared "chisel/shared/types"
)

// Skip reasons reported on skipped task results.
const (
	SkipCancelled     = "cancelled"
	SkipStopOnError   = "stop_on_error"
	SkipDuplicatePath = "duplicate path in batch"
)

// TaskFunc produces the new content for one task. lane is empty except
// in swarm mode, where it names the specialization pass.
type TaskFunc func(ctx context.Context, task shared.FileTask, lane string) (string, error)

// Options configures a Scheduler.
type Options struct {
	// MaxConcurrency bounds the worker pool in parallel mode and the
	// CPU gate in concurrent mode. Defaults to the hardware parallelism.
	MaxConcurrency int

	// StopOnError makes sequential mode skip everything after the
	// first failure.
	StopOnError bool

	// Lanes are the swarm specialization passes. Defaults to
	// correctness, performance, style.
	Lanes []string
}

// Scheduler runs batches of FileTasks.
type Scheduler struct {
	maxConcurrency int
	stopOnError    bool
	lanes          []string
	diffEngine     *diff.Engine
	cpuGate        chan struct{}
	logger         *zap.Logger
}

// New creates a scheduler. The diff engine is used by swarm mode to
// merge lane results.
func New(opts Options, diffEngine *diff.Engine, logger *zap.Logger) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = runtime.NumCPU()
	}
	if len(opts.Lanes) == 0 {
		opts.Lanes = []string{"correctness", "performance", "style"}
	}
	if diffEngine == nil {
		diffEngine = diff.NewEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		maxConcurrency: opts.MaxConcurrency,
		stopOnError:    opts.StopOnError,
		lanes:          opts.Lanes,
		diffEngine:     diffEngine,
		cpuGate:        make(chan struct{}, opts.MaxConcurrency),
		logger:         logger,
	}
}

// AcquireCPU blocks until a CPU slot is free and returns its release
// function. Task functions wrap CPU-bound sections (diff computation,
// parsing) with it in concurrent mode, so unbounded in-flight I/O
// waits never translate into unbounded CPU use.
func (s *Scheduler) AcquireCPU(ctx context.Context) (func(), error) {
	select {
	case s.cpuGate <- struct{}{}:
		return func() { <-s.cpuGate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes tasks under mode and returns one result per input task,
// in input order. Per-task failures never abort the batch; Run itself
// errors only on a structurally invalid request.
func (s *Scheduler) Run(ctx context.Context, tasks []shared.FileTask, mode shared.Mode, fn TaskFunc) (*shared.BatchResult, error) {
	if len(tasks) == 0 {
		return nil, errors.Validation("task list cannot be empty", nil)
	}
	if fn == nil {
		return nil, errors.Validation("task function cannot be nil", nil)
	}
	if _, ok := shared.ParseMode(string(mode)); !ok {
		return nil, errors.Validation(fmt.Sprintf("unknown mode: %q", mode), nil)
	}

	// Two tasks must never write the same path in one batch: only the
	// first occurrence runs, duplicates are reported as skipped.
	runnable := make([]bool, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for i, task := range tasks {
		if task.Path == "" {
			return nil, errors.Validation(fmt.Sprintf("task %d has no path", i), nil)
		}
		if seen[task.Path] {
			continue
		}
		seen[task.Path] = true
		runnable[i] = true
	}

	results := make([]shared.TaskResult, len(tasks))
	for i, task := range tasks {
		if !runnable[i] {
			results[i] = shared.TaskResult{
				Path:       task.Path,
				State:      shared.StateSkipped,
				SkipReason: SkipDuplicatePath,
			}
		}
	}

	s.logger.Debug("running batch",
		zap.Int("tasks", len(tasks)),
		zap.String("mode", string(mode)))

	switch mode {
	case shared.ModeSequential:
		s.runSequential(ctx, tasks, runnable, results, fn)
	case shared.ModeParallel:
		s.runPooled(ctx, tasks, runnable, results, fn, s.maxConcurrency)
	case shared.ModeConcurrent:
		// One goroutine per task: I/O waits park instead of holding a
		// pool slot. CPU-bound sections are bounded via AcquireCPU.
		s.runPooled(ctx, tasks, runnable, results, fn, len(tasks))
	case shared.ModeSwarm:
		s.runSwarm(ctx, tasks, runnable, results, fn)
	}

	batch := tally(results)
	if len(batch.Results) != len(tasks) {
		return nil, errors.Internal("batch result does not cover every task", nil)
	}
	return batch, nil
}

// runTask executes fn for one task, converting panics, errors, and
// timeouts into Failed results. An expired timeout abandons the call
// without forcing termination; the result is failed regardless of what
// the call eventually returns.
func (s *Scheduler) runTask(ctx context.Context, task shared.FileTask, lane string, fn TaskFunc) (result shared.TaskResult) {
	result = shared.TaskResult{Path: task.Path, State: shared.StateRunning, Lane: lane}

	defer func() {
		if r := recover(); r != nil {
			result.State = shared.StateFailed
			result.Err = errors.Internal(fmt.Sprintf("task panicked: %v", r), nil)
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.Internal(fmt.Sprintf("task panicked: %v", r), nil)}
			}
		}()
		content, err := fn(runCtx, task, lane)
		done <- outcome{content: content, err: err}
	}()

	if task.Timeout > 0 {
		select {
		case out := <-done:
			// A task function that returns its context error after the
			// deadline can beat the timer to this select; the result
			// must be typed as a timeout either way.
			if out.err != nil && runCtx.Err() == context.DeadlineExceeded {
				return timeoutResult(task, lane)
			}
			return finishTask(task, lane, out.content, out.err)
		case <-time.After(task.Timeout):
			return timeoutResult(task, lane)
		}
	}

	out := <-done
	return finishTask(task, lane, out.content, out.err)
}

func timeoutResult(task shared.FileTask, lane string) shared.TaskResult {
	return shared.TaskResult{
		Path:  task.Path,
		State: shared.StateFailed,
		Lane:  lane,
		Err:   errors.Timeout(fmt.Sprintf("task timed out after %s", task.Timeout)),
	}
}

func finishTask(task shared.FileTask, lane, content string, err error) shared.TaskResult {
	if err != nil {
		return shared.TaskResult{
			Path:  task.Path,
			State: shared.StateFailed,
			Lane:  lane,
			Err:   err,
		}
	}
	return shared.TaskResult{
		Path:       task.Path,
		State:      shared.StateSucceeded,
		Lane:       lane,
		NewContent: content,
	}
}

func tally(results []shared.TaskResult) *shared.BatchResult {
	batch := &shared.BatchResult{Results: results}
	for _, r := range results {
		switch r.State {
		case shared.StateSucceeded:
			batch.Succeeded++
		case shared.StateFailed:
			batch.Failed++
		case shared.StateSkipped:
			batch.Skipped++
		}
	}
	return batch
}
