// cmd/chisel/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chisel/internal/checkpoint"
	"chisel/internal/config"
	"chisel/internal/diff"
	"chisel/internal/engine"
	"chisel/internal/index"
	"chisel/internal/logging"
	"chisel/internal/provider"
	"chisel/internal/scheduler"
	"chisel/internal/workspace"
	shared "chisel/shared/types"
)

var rootCmd = &cobra.Command{
	Use:   "chisel",
	Short: "Chisel is a change orchestration engine",
	Long: `Chisel applies model-driven modifications to batches of files with
checkpointed rollback and a searchable history of what changed. Batches run
sequentially, in parallel, concurrently, or as a multi-lane swarm.`,
}

// app bundles everything a command needs, wired once per invocation.
type app struct {
	cfg    *config.Config
	root   string
	db     *badger.DB
	ws     *workspace.Workspace
	store  *checkpoint.Store
	engine *engine.Engine
	logger *logging.Logger
}

func (a *app) Close() {
	if a.ws != nil {
		a.ws.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Chisel workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			if err := workspace.Initialize(dir); err != nil {
				return fmt.Errorf("initializing workspace: %w", err)
			}

			fmt.Println("Initialized empty Chisel workspace in", dir)
			return nil
		},
	}

	var runCmd = &cobra.Command{
		Use:   "run [paths...]",
		Short: "Apply an instruction to the specified files",
		Long: `Runs the instruction against each file through the configured provider,
checkpoints the result, and indexes every change for later search.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction, _ := cmd.Flags().GetString("instruction")
			modeFlag, _ := cmd.Flags().GetString("mode")
			diffModeFlag, _ := cmd.Flags().GetString("diff-mode")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			showDiff, _ := cmd.Flags().GetBool("diff")

			mode, ok := shared.ParseMode(modeFlag)
			if !ok {
				return fmt.Errorf("unknown mode: %q", modeFlag)
			}
			diffMode, ok := diff.ParseMode(diffModeFlag)
			if !ok {
				return fmt.Errorf("unknown diff mode: %q", diffModeFlag)
			}

			a, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks := make([]shared.FileTask, 0, len(args))
			for _, path := range args {
				content, err := a.ws.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				tasks = append(tasks, shared.FileTask{
					Path:            path,
					OriginalContent: content,
					Instruction:     instruction,
					Timeout:         timeout,
				})
			}

			result, err := a.engine.Execute(cmd.Context(), engine.Request{
				Files:    tasks,
				Mode:     mode,
				DiffMode: diffMode,
			})
			if err != nil {
				return fmt.Errorf("executing batch: %w", err)
			}

			printBatchResult(result.Batch)

			if showDiff {
				for _, d := range result.Diffs {
					fmt.Printf("\ndiff --chisel a/%s b/%s\n", d.Path, d.Path)
					printColoredDiff(d.Format())
				}
			}

			if result.Checkpoint != nil {
				fmt.Printf("\nCheckpoint %s: %s\n", result.Checkpoint.ID[:8], result.Checkpoint.Message)
			} else {
				fmt.Println("\nNo effective changes, no checkpoint created")
			}
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff <original> <modified>",
		Short: "Show the line-level difference between two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			diffModeFlag, _ := cmd.Flags().GetString("diff-mode")
			diffMode, ok := diff.ParseMode(diffModeFlag)
			if !ok {
				return fmt.Errorf("unknown diff mode: %q", diffModeFlag)
			}

			original, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			modified, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[1], err)
			}

			result, err := diff.NewEngine().Diff(string(original), string(modified), diffMode)
			if err != nil {
				return fmt.Errorf("computing diff: %w", err)
			}

			if result.Empty() {
				fmt.Println("Files are identical")
				return nil
			}

			fmt.Printf("diff --chisel a/%s b/%s\n", args[0], args[1])
			printColoredDiff(result.Format())
			fmt.Println(result.Summary())
			return nil
		},
	}

	var checkpointsCmd = &cobra.Command{
		Use:   "checkpoints",
		Short: "List all checkpoints, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			checkpoints, err := a.store.List()
			if err != nil {
				return fmt.Errorf("listing checkpoints: %w", err)
			}

			if len(checkpoints) == 0 {
				fmt.Println("No checkpoints found")
				return nil
			}

			fmt.Println("\nCheckpoints:")
			for _, cp := range checkpoints {
				fmt.Printf("%s  %s  %s\n",
					cp.ID[:8],
					cp.Timestamp.Format(time.RFC3339),
					cp.Message,
				)
			}
			return nil
		},
	}

	var rollbackCmd = &cobra.Command{
		Use:   "rollback <checkpoint-id | timestamp>",
		Short: "Restore the working tree to a prior checkpoint",
		Long: `Restores the working tree to the named checkpoint, or to the most
recent checkpoint at or before an RFC3339 timestamp.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cp, err := a.engine.Rollback(args[0])
			if err != nil {
				return fmt.Errorf("rolling back: %w", err)
			}

			fmt.Printf("Restored checkpoint %s: %s\n", cp.ID[:8], cp.Message)
			return nil
		},
	}

	var searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search past changes by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max-results")

			a, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.engine.Search(cmd.Context(), args[0], maxResults)
			if err != nil {
				return fmt.Errorf("searching index: %w", err)
			}

			if len(matches) == 0 {
				fmt.Println("No matches found")
				return nil
			}

			fmt.Println("\nMatches:")
			for _, m := range matches {
				fmt.Printf("%.3f  %s  %s  %s\n",
					m.Score,
					m.Entry.ID[:8],
					m.Entry.Timestamp.Format(time.RFC3339),
					m.Entry.DiffSummary,
				)
			}
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			clean, err := a.store.IsClean()
			if err != nil {
				return fmt.Errorf("getting status: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			fmt.Println("Workspace:", a.root)
			fmt.Println("Backend:  ", a.cfg.Checkpoint.Backend)
			fmt.Println("Provider: ", a.cfg.Provider.Name)
			if branch, err := a.store.CurrentBranch(); err == nil && branch != "" {
				fmt.Println("Branch:   ", branch)
			}

			checkpoints, err := a.store.List()
			if err != nil {
				return fmt.Errorf("listing checkpoints: %w", err)
			}
			if len(checkpoints) > 0 {
				latest := checkpoints[len(checkpoints)-1]
				fmt.Printf("Latest:    %s (%s)\n", latest.ID[:8], latest.Message)
			}

			if clean {
				fmt.Println(green("Working tree clean"))
			} else {
				fmt.Println(yellow("Working tree has uncommitted changes"))
			}
			return nil
		},
	}

	runCmd.Flags().StringP("instruction", "i", "", "Instruction to apply to each file")
	runCmd.Flags().StringP("mode", "m", "sequential", "Scheduling mode (sequential, parallel, concurrent, swarm)")
	runCmd.Flags().String("diff-mode", "file", "Diff granularity (file, function)")
	runCmd.Flags().Duration("timeout", 0, "Per-task timeout (0 disables)")
	runCmd.Flags().Bool("diff", false, "Print the resulting diffs")
	runCmd.Flags().Int("max-concurrency", 0, "Override configured worker count")
	runCmd.Flags().Bool("stop-on-error", false, "Stop a sequential batch at the first failure")
	runCmd.MarkFlagRequired("instruction")

	diffCmd.Flags().String("diff-mode", "file", "Diff granularity (file, function)")
	searchCmd.Flags().Int("max-results", 10, "Maximum number of matches")

	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
}

func initApp(cmd *cobra.Command) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}

	root, err := workspace.FindRoot(cwd)
	if err != nil {
		return nil, fmt.Errorf("finding workspace root (run 'chisel init' first): %w", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	dbPath := filepath.Join(root, cfg.Database.Path)
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ws, err := workspace.Open(root, logger.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	backend, err := newBackend(cfg, root, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	store, err := checkpoint.NewStore(backend, checkpoint.NewLog(db), logger.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing checkpoint store: %w", err)
	}

	prov, embedder, err := newProvider(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	idx, err := index.NewIndex(db, embedder, logger.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing index: %w", err)
	}

	schedOpts := scheduler.Options{
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		StopOnError:    cfg.Scheduler.StopOnError,
		Lanes:          cfg.Scheduler.Lanes,
	}
	if v, err := cmd.Flags().GetInt("max-concurrency"); err == nil && v > 0 {
		schedOpts.MaxConcurrency = v
	}
	if v, err := cmd.Flags().GetBool("stop-on-error"); err == nil && v {
		schedOpts.StopOnError = true
	}

	diffEngine := diff.NewEngine()
	sched := scheduler.New(schedOpts, diffEngine, logger.Logger)

	eng, err := engine.New(engine.Deps{
		Scheduler:   sched,
		DiffEngine:  diffEngine,
		Checkpoints: store,
		Index:       idx,
		Provider:    prov,
		Workspace:   ws,
		Logger:      logger.Logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	return &app{
		cfg:    cfg,
		root:   root,
		db:     db,
		ws:     ws,
		store:  store,
		engine: eng,
		logger: logger,
	}, nil
}

func newBackend(cfg *config.Config, root string, db *badger.DB) (checkpoint.Backend, error) {
	switch cfg.Checkpoint.Backend {
	case "git":
		backend, err := checkpoint.OpenGit(root)
		if err != nil {
			return nil, fmt.Errorf("opening git backend: %w", err)
		}
		return backend, nil
	case "snapshot", "":
		backend, err := checkpoint.NewSnapshotBackend(db, checkpoint.SnapshotOptions{Root: root})
		if err != nil {
			return nil, fmt.Errorf("opening snapshot backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %q", cfg.Checkpoint.Backend)
	}
}

func newProvider(cfg *config.Config) (provider.Provider, provider.Embedder, error) {
	switch cfg.Provider.Name {
	case "openai":
		apiKey := os.Getenv(cfg.Provider.APIKeyEnv)
		if apiKey == "" {
			return nil, nil, fmt.Errorf("%s is not set", cfg.Provider.APIKeyEnv)
		}
		p, err := provider.NewOpenAIProvider(apiKey, cfg.Provider.Model, cfg.Provider.EmbeddingModel)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing openai provider: %w", err)
		}
		return p, p, nil
	case "mock", "":
		return provider.NewMockProvider(), provider.NewMockEmbedder(), nil
	default:
		return nil, nil, fmt.Errorf("unknown provider: %q", cfg.Provider.Name)
	}
}

func printBatchResult(batch *shared.BatchResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println()
	for _, res := range batch.Results {
		switch res.State {
		case shared.StateSucceeded:
			fmt.Printf("\t%s %s\n", green("✓"), res.Path)
		case shared.StateFailed:
			fmt.Printf("\t%s %s: %v\n", red("✗"), res.Path, res.Err)
		case shared.StateSkipped:
			fmt.Printf("\t%s %s (%s)\n", yellow("-"), res.Path, res.SkipReason)
		}
	}
	fmt.Printf("\n%d succeeded, %d failed, %d skipped\n",
		batch.Succeeded, batch.Failed, batch.Skipped)
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
