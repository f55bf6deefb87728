package scheduler

import (
	"context"
	"sync"

	shared "chisel/shared/types"
)

// runSequential executes runnable tasks strictly in input order. With
// stopOnError set, everything after the first failure is skipped
// without running.
func (s *Scheduler) runSequential(ctx context.Context, tasks []shared.FileTask, runnable []bool, results []shared.TaskResult, fn TaskFunc) {
	failed := false
	for i, task := range tasks {
		if !runnable[i] {
			continue
		}
		if s.stopOnError && failed {
			results[i] = shared.TaskResult{
				Path:       task.Path,
				State:      shared.StateSkipped,
				SkipReason: SkipStopOnError,
			}
			continue
		}
		if ctx.Err() != nil {
			results[i] = shared.TaskResult{
				Path:       task.Path,
				State:      shared.StateSkipped,
				SkipReason: SkipCancelled,
			}
			continue
		}

		results[i] = s.runTask(ctx, task, "", fn)
		if results[i].State == shared.StateFailed {
			failed = true
		}
	}
}

// runPooled dispatches runnable tasks across a bounded pool of
// workers. Results land at their input index, so completion order
// never leaks into the batch. On cancellation, running tasks complete
// while un-started tasks are skipped.
func (s *Scheduler) runPooled(ctx context.Context, tasks []shared.FileTask, runnable []bool, results []shared.TaskResult, fn TaskFunc, workers int) {
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results[i] = shared.TaskResult{
						Path:       tasks[i].Path,
						State:      shared.StateSkipped,
						SkipReason: SkipCancelled,
					}
					continue
				}
				results[i] = s.runTask(ctx, tasks[i], "", fn)
			}
		}()
	}

	for i := range tasks {
		if runnable[i] {
			jobs <- i
		}
	}
	close(jobs)
	wg.Wait()
}
