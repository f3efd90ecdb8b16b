// Package main is the feedwatch CLI: it runs ingestion passes on a timer
// (or once), and exposes queue and store inspection commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"feedwatch/internal/config"
	"feedwatch/internal/parser"
	"feedwatch/internal/pipeline"
	"feedwatch/internal/queue"
	"feedwatch/internal/scheduler"
	"feedwatch/internal/store"
	"feedwatch/internal/trigger"
)

var (
	configPath string
	runOnce    bool
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "feedwatch",
	Short: "feedwatch ingests RSS/Atom feeds and queues agent work for matched items",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion pipeline (continuously, or once with --once)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the trigger queue",
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending queue tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return clearQueue()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config/config.yaml", "path to config file")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run one pass and exit")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run one pass without queueing tasks, ignoring the time window")
	rootCmd.AddCommand(runCmd, statusCmd, queueCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.SQLite
	queue *queue.Queue
}

func newApp() (*app, error) {
	bootLog := newLogger("info")
	cfg, err := config.Load(configPath, bootLog)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	q, err := queue.Load(cfg.QueuePath, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load queue %s: %w", cfg.QueuePath, err)
	}
	return &app{cfg: cfg, log: log, store: st, queue: q}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

func runPipeline() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	fetcher := parser.New(http.DefaultClient, parser.Options{
		Timeout:   time.Duration(a.cfg.Fetch.TimeoutSeconds) * time.Second,
		RateLimit: time.Duration(a.cfg.Fetch.RateLimitSeconds) * time.Second,
		Retries:   uint64(a.cfg.Fetch.Retries),
	}, a.log)
	engine := trigger.New(a.store, a.log)
	pipe := pipeline.New(fetcher, a.store, engine, a.queue, a.cfg, a.log)
	pipe.SetDryRun(dryRun)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Dry runs and --once execute a single pass; dry runs additionally
	// ignore the execution window.
	if runOnce || dryRun {
		a.log.Info("running single pass", "dry_run", dryRun)
		return pipe.Run(ctx)
	}

	sched := scheduler.New(pipe, time.Duration(a.cfg.Scheduler.IntervalHours)*time.Hour, a.log)
	if start, end, ok := a.cfg.Window(); ok {
		sched.SetWindow(start, end)
	}
	a.log.Info("starting scheduler", "interval_hours", a.cfg.Scheduler.IntervalHours)
	sched.Run(ctx)
	a.log.Info("scheduler stopped")
	return nil
}

func showStatus() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	count, tasks := a.queue.Status()
	fmt.Printf("queue: %d pending task(s)\n", count)
	for _, t := range tasks {
		fmt.Printf("  %s (%s): %d item(s), enqueued %s\n",
			t.AgentName, t.AgentID, len(t.Items), t.EnqueuedAt.Format(time.RFC3339))
	}

	ctx := context.Background()
	states, err := a.store.FeedStates(ctx)
	if err != nil {
		return err
	}
	fmt.Println("watermarks:")
	for _, st := range states {
		fmt.Printf("  %s: %s\n", st.FeedID, st.LastReadAt.Format(time.RFC3339))
	}

	checks, err := a.store.RecentHealthChecks(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Println("recent passes:")
	for _, hc := range checks {
		fmt.Printf("  %s %s: %s (%s)\n", hc.CreatedAt.Format(time.RFC3339), hc.Status, hc.Message, hc.CheckType)
	}

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(stats))
	for t := range stats {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	fmt.Println("store:")
	for _, t := range tables {
		fmt.Printf("  %s: %d\n", t, stats[t])
	}
	return nil
}

func clearQueue() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	count, _ := a.queue.Status()
	a.queue.Clear()
	fmt.Printf("cleared %d task(s)\n", count)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
