package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"noema/internal/config"
	"noema/internal/engine"
	"noema/internal/perception"
	"noema/internal/pipeline"
	"noema/internal/search"
	"noema/internal/store"
	"noema/internal/types"
	"noema/internal/watch"
)

var version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// analyze flags
	flagSender  string
	flagSubject string
	flagSource  string
	flagJSONOut bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "noema",
	Short: "noema - convergence engine for a personal cognitive assistant",
	Long: `noema analyzes incoming events (email, chat, calendar, files) through a
multi-pass LLM convergence loop: a cheap blind extraction first, then
contextual refinement against your local knowledge store, escalating to
stronger models only when confidence stalls.

Results are recommendations with a full audit trail; nothing is acted
on automatically below the confidence floor.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [event.json]",
	Short: "Analyze one event and print the recommendation",
	Long: `Runs the full convergence loop for a single event.

The event is either a JSON file matching the perceived-event schema, or
"-" to read the event body from stdin (use --sender/--subject/--source
to fill in the envelope).

Example:
  noema analyze inbox/invoice-4821.json
  cat body.txt | noema analyze - --sender billing@acme.com --subject "Invoice 4821"`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox directory and analyze events as they arrive",
	Long: `Watches the configured inbox directory for *.json event files. Each
file is analyzed once and the result written beside it as
<name>.analysis.json. Events run concurrently, capped by the LLM call
scheduler. Ctrl-C drains in-flight analyses before exiting.`,
	RunE: runWatch,
}

var clarifyCmd = &cobra.Command{
	Use:   "clarify",
	Short: "List analyses waiting for your input",
	RunE:  runClarify,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned sender patterns",
	RunE:  runPatterns,
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage the local knowledge store notes",
}

var notesAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add or update a note (body read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesAdd,
}

var notesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search notes by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNotesSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge store statistics",
	RunE:  runStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("noema %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.noema/config.yaml)")

	analyzeCmd.Flags().StringVar(&flagSender, "sender", "", "event sender (stdin mode)")
	analyzeCmd.Flags().StringVar(&flagSubject, "subject", "", "event subject (stdin mode)")
	analyzeCmd.Flags().StringVar(&flagSource, "source", "email", "event source: email|chat|calendar|file")
	analyzeCmd.Flags().BoolVar(&flagJSONOut, "json", false, "print the full result as JSON")

	notesCmd.AddCommand(notesAddCmd, notesSearchCmd)
	rootCmd.AddCommand(analyzeCmd, watchCmd, clarifyCmd, notesCmd, patternsCmd, statsCmd, versionCmd)
}

// runtime bundles everything a command needs, built once per command.
type runtime struct {
	cfg   *config.Config
	store *store.LocalStore
	pipe  *pipeline.Pipeline
}

func buildRuntime(ctx context.Context) (*runtime, func(), error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.NewLocalStore(cfg.StorePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	tiers, err := perception.NewTierSet(ctx, cfg.LLM, logger)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("init LLM tiers: %w", err)
	}
	scheduled := &perception.ScheduledTierSet{
		Tiers:     tiers,
		Scheduler: perception.NewCallScheduler(cfg.LLM.MaxInFlight),
	}

	svc := search.NewService(st, logger)
	eng := engine.New(cfg, scheduled, svc, logger, engine.Options{
		Observer: engine.LogObserver{Logger: logger},
		Ledger:   &perception.CostLedger{},
	})
	pipe := pipeline.New(eng, st, logger)

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}
	return &runtime{cfg: cfg, store: st, pipe: pipe}, cleanup, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	event, err := loadEvent(args[0])
	if err != nil {
		return err
	}

	result, err := rt.pipe.Process(ctx, event)
	if err != nil {
		return err
	}

	if flagJSONOut {
		enc, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}
	fmt.Println(renderResult(result))
	return nil
}

func loadEvent(arg string) (*types.PerceivedEvent, error) {
	if arg == "-" {
		body, err := readAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return &types.PerceivedEvent{
			ID:        types.NewEventID(),
			Source:    types.SourceKind(flagSource),
			Sender:    flagSender,
			Subject:   flagSubject,
			Body:      body,
			Timestamp: time.Now(),
		}, nil
	}

	raw, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	var event types.PerceivedEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode event file %s: %w", arg, err)
	}
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return &event, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := watch.NewWatcher(rt.cfg.InboxDir, rt.pipe, rt.cfg.LLM.MaxInFlight, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", rt.cfg.InboxDir)
	<-ctx.Done()
	fmt.Println("\nDraining in-flight analyses...")
	watcher.Stop()

	stats := watcher.GetStats()
	fmt.Printf("Done: %d analyzed, %d skipped, %d errors\n",
		stats.Analyzed, stats.Skipped, stats.Errors)
	return nil
}

func runClarify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	pending, err := rt.store.PendingClarifications(ctx, 20)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Nothing waiting for clarification.")
		return nil
	}
	for _, r := range pending {
		fmt.Println(renderClarification(r))
	}
	return nil
}

func runNotesAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	body, err := readAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read note body: %w", err)
	}
	id, err := rt.store.PutNote(ctx, args[0], body)
	if err != nil {
		return err
	}
	fmt.Printf("Saved note %q (%s)\n", args[0], id)
	return nil
}

func runNotesSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	notes, err := rt.store.SearchNotes(ctx, strings.Join(args, " "), 10)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Println("No matching notes.")
		return nil
	}
	for _, n := range notes {
		fmt.Printf("%-30s %.2f  %s\n", n.Title, n.Relevance, n.Excerpt)
	}
	return nil
}

func runPatterns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := rt.store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Learned sender patterns: %d\n", stats["sender_patterns"])
	fmt.Println("Patterns apply automatically once a sender has 5+ consistent,")
	fmt.Println("successful outcomes at confidence 0.95 or above.")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := rt.store.Stats()
	if err != nil {
		return err
	}
	for _, table := range []string{"notes", "calendar_events", "tasks", "messages", "sender_patterns", "analyses"} {
		fmt.Printf("%-16s %d\n", table, stats[table])
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
