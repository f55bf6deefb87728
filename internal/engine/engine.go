// Package engine composes the scheduler, diff engine, checkpoint
// store, and change index into the full modify-checkpoint-index
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chisel/internal/checkpoint"
	"chisel/internal/diff"
	"chisel/internal/errors"
	"chisel/internal/index"
	"chisel/internal/provider"
	"chisel/internal/scheduler"
	"chisel/internal/workspace"
	shared "chisel/shared/types"
)

// Request is one unit of orchestration work: a batch of files plus the
// mode to process them under.
type Request struct {
	Files []shared.FileTask
	Mode  shared.Mode

	// DiffMode selects file- or function-level diffing for the batch.
	// Defaults to file.
	DiffMode diff.Mode
}

// Result aggregates everything one Execute call produced. Checkpoint
// is nil when no task changed anything.
type Result struct {
	Batch      *shared.BatchResult
	Checkpoint *shared.Checkpoint
	Diffs      []diff.DiffResult
}

// Deps are the collaborators an Engine is built from. Everything is
// injected explicitly; the engine holds no ambient globals.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	DiffEngine  *diff.Engine
	Checkpoints *checkpoint.Store
	Index       *index.Index
	Provider    provider.Provider
	Workspace   *workspace.Workspace
	Logger      *zap.Logger
}

// Engine drives the change-orchestration lifecycle.
type Engine struct {
	scheduler   *scheduler.Scheduler
	diffEngine  *diff.Engine
	checkpoints *checkpoint.Store
	index       *index.Index
	provider    provider.Provider
	ws          *workspace.Workspace
	logger      *zap.Logger
}

// New wires an engine from its dependencies.
func New(deps Deps) (*Engine, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if deps.DiffEngine == nil {
		return nil, fmt.Errorf("diff engine cannot be nil")
	}
	if deps.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store cannot be nil")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Engine{
		scheduler:   deps.Scheduler,
		diffEngine:  deps.DiffEngine,
		checkpoints: deps.Checkpoints,
		index:       deps.Index,
		provider:    deps.Provider,
		ws:          deps.Workspace,
		logger:      deps.Logger,
	}, nil
}

// Execute runs the batch, diffs every successful result, commits one
// checkpoint when anything actually changed, and indexes the diffs.
// Per-task failures surface inside the batch result; Execute itself
// fails only on invalid requests or checkpoint/storage errors.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if len(req.Files) == 0 {
		return nil, errors.Validation("request has no files", nil)
	}
	if _, ok := shared.ParseMode(string(req.Mode)); !ok {
		return nil, errors.Validation(fmt.Sprintf("unknown mode: %q", req.Mode), nil)
	}
	diffMode := req.DiffMode
	if diffMode == "" {
		diffMode = diff.ModeFile
	}

	batchID := uuid.New().String()
	log := e.logger.With(zap.String("batch_id", batchID))
	log.Info("executing batch",
		zap.Int("files", len(req.Files)),
		zap.String("mode", string(req.Mode)))

	batch, err := e.scheduler.Run(ctx, req.Files, req.Mode, e.processTask)
	if err != nil {
		return nil, err
	}

	result := &Result{Batch: batch}
	var touched []string

	for i, taskResult := range batch.Results {
		if !taskResult.Succeeded() {
			continue
		}
		task := req.Files[i]

		// Content equality, not diff emptiness, decides whether a
		// result is persisted: a diff granularity blind to some change
		// must never cause a succeeded edit to be silently dropped.
		if taskResult.NewContent == task.OriginalContent {
			continue
		}

		diffResult, err := e.diffEngine.Diff(task.OriginalContent, taskResult.NewContent, diffMode)
		if err != nil {
			return nil, fmt.Errorf("diffing %s: %w", task.Path, err)
		}
		diffResult.Path = task.Path

		if e.ws != nil {
			if err := e.ws.WriteFile(task.Path, taskResult.NewContent); err != nil {
				return nil, fmt.Errorf("writing %s: %w", task.Path, err)
			}
		}

		if !diffResult.Empty() {
			result.Diffs = append(result.Diffs, *diffResult)
		}
		touched = append(touched, task.Path)
	}

	if len(touched) == 0 {
		log.Info("no effective changes, skipping checkpoint",
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("failed", batch.Failed))
		return result, nil
	}

	sort.Strings(touched)
	cp, err := e.checkpoints.CreateCheckpoint("chisel: update " + strings.Join(touched, ", "))
	if err != nil {
		return nil, err
	}
	result.Checkpoint = cp
	if e.ws != nil {
		e.ws.ClearDirty()
	}

	for _, d := range result.Diffs {
		entry := &shared.DiffEntry{
			Path:        d.Path,
			DiffSummary: fmt.Sprintf("%s: %s", d.Path, d.Summary()),
			Timestamp:   cp.Timestamp,
		}
		if err := e.index.Add(ctx, entry); err != nil {
			// The checkpoint exists; a failed index write degrades
			// search, it must not unwind the run.
			log.Warn("indexing change failed",
				zap.String("path", d.Path),
				zap.Error(err))
		}
	}

	log.Info("batch complete",
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
		zap.String("checkpoint", cp.ID))

	return result, nil
}

// processTask asks the provider for the updated file body.
func (e *Engine) processTask(ctx context.Context, task shared.FileTask, lane string) (string, error) {
	messages := []provider.Message{
		provider.NewSystemMessage(systemPrompt(lane)),
		provider.NewUserMessage(userPrompt(task)),
	}

	reply, err := e.provider.GetChatCompletion(ctx, messages)
	if err != nil {
		return "", err
	}

	return extractBody(reply.Content), nil
}

// Rollback restores the working tree to a prior checkpoint, by id or
// RFC3339 timestamp.
func (e *Engine) Rollback(ref string) (*shared.Checkpoint, error) {
	return e.checkpoints.Rollback(ref)
}

// Search finds indexed changes semantically similar to the query.
func (e *Engine) Search(ctx context.Context, query string, maxResults int) ([]index.Match, error) {
	return e.index.Search(ctx, query, maxResults)
}

// ComputeDiff exposes the diff engine to callers.
func (e *Engine) ComputeDiff(original, modified string, mode diff.Mode) (*diff.DiffResult, error) {
	return e.diffEngine.Diff(original, modified, mode)
}

// Checkpoints lists the full checkpoint history, oldest first.
func (e *Engine) Checkpoints() ([]shared.Checkpoint, error) {
	return e.checkpoints.List()
}

func systemPrompt(lane string) string {
	var b strings.Builder
	b.WriteString("You are a code modification assistant. ")
	b.WriteString("Apply the requested change to the file and return the complete updated file body. ")
	b.WriteString("Return only the file content, no commentary.")
	if lane != "" {
		fmt.Fprintf(&b, " Focus exclusively on %s concerns.", lane)
	}
	return b.String()
}

func userPrompt(task shared.FileTask) string {
	return fmt.Sprintf("Instruction: %s\n\nFile: %s\n---\n%s", task.Instruction, task.Path, task.OriginalContent)
}

// extractBody unwraps a reply that is one fenced code block; models
// often fence file bodies even when told not to.
func extractBody(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return reply
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return reply
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
