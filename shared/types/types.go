// Core model types shared across the engine
package shared

import (
	"time"
)

// Mode selects the scheduling strategy for a batch.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModeConcurrent Mode = "concurrent"
	ModeSwarm      Mode = "swarm"
)

// ParseMode converts a string into a Mode, reporting whether it is known.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeSequential, ModeParallel, ModeConcurrent, ModeSwarm:
		return Mode(s), true
	}
	return "", false
}

// TaskState tracks a task through its lifecycle.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	StateSkipped   TaskState = "skipped"
)

// FileTask is one unit of work: a file plus the instruction to apply to it.
type FileTask struct {
	Path            string        `json:"path"`
	OriginalContent string        `json:"original_content"`
	Instruction     string        `json:"instruction"`
	Timeout         time.Duration `json:"timeout,omitempty"` // zero means no per-task timeout
}

// TaskResult is the outcome of one FileTask.
type TaskResult struct {
	Path       string    `json:"path"`
	State      TaskState `json:"state"`
	NewContent string    `json:"new_content,omitempty"`
	Err        error     `json:"-"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Lane       string    `json:"lane,omitempty"` // set in swarm mode
}

// Succeeded reports whether the task produced usable content.
func (r TaskResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// BatchResult aggregates every task outcome for one scheduler run.
// Results preserve input order regardless of mode.
type BatchResult struct {
	Results   []TaskResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
}

// Checkpoint is a named, restorable snapshot of the working tree.
type Checkpoint struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	TreeRef   string    `json:"tree_ref"` // opaque handle into the backend
}

// GetID implements the storage entity contract.
func (c *Checkpoint) GetID() string {
	return c.ID
}

// DiffEntry is an indexed record of one committed change. Entries are
// append-only; a nil Embedding marks an entry that could not be embedded
// and is excluded from search but retained for audit.
type DiffEntry struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	DiffSummary string    `json:"diff_summary"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// GetID implements the storage entity contract.
func (e *DiffEntry) GetID() string {
	return e.ID
}
