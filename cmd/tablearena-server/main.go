// Package main provides the arena server binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablearena/tablearena/internal/artifact"
	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/config"
	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/leaderboard"
	"github.com/tablearena/tablearena/internal/metrics"
	"github.com/tablearena/tablearena/internal/pkg/logger"
	"github.com/tablearena/tablearena/internal/scorer"
	"github.com/tablearena/tablearena/internal/server"
	"github.com/tablearena/tablearena/internal/submission"
	"github.com/tablearena/tablearena/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tablearena-server",
		Short: "Table extraction arena server",
		Long: `Table extraction arena server.

Participants upload predicted tables as a JSON object keyed by table id.
Each upload is normalized, scored against the ground truth and ranked on
the leaderboard.

Examples:
  tablearena-server                          # Start with defaults
  tablearena-server -c arena.yaml            # Load a config file
  tablearena-server --port 9000 --workers 4  # Override selected settings`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8000, "HTTP server port")
	rootCmd.Flags().String("ground-truth", "", "ground truth JSON file (overrides config)")
	rootCmd.Flags().String("scorer-url", "", "similarity scorer URL (overrides config)")
	rootCmd.Flags().Int("workers", 0, "concurrent evaluations (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tablearena-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("ground-truth") {
		appCfg.Data.GroundTruthPath, _ = cmd.Flags().GetString("ground-truth")
	}
	if cmd.Flags().Changed("scorer-url") {
		appCfg.Scorer.URL, _ = cmd.Flags().GetString("scorer-url")
	}
	if cmd.Flags().Changed("workers") {
		appCfg.Eval.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	log := logger.New(appCfg.Log.Level, appCfg.Log.Format)
	log.Info("Starting table arena server", "version", version, "addr", appCfg.Address())

	// Ground truth is loaded once and shared read-only by every run.
	gt, err := evaluation.LoadGroundTruth(appCfg.Data.GroundTruthPath)
	if err != nil {
		return fmt.Errorf("failed to load ground truth: %w", err)
	}
	log.Info("Loaded ground truth", "path", appCfg.Data.GroundTruthPath, "tables", gt.Len())

	var m *metrics.Metrics
	if appCfg.Observability.MetricsEnabled {
		m = metrics.New()
	}

	// Event bus: memory or Kafka, optionally logged, instrumented when metrics are on
	baseBus, eventLogger, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := baseBus
	if m != nil {
		eventBus = bus.NewInstrumentedBus(baseBus, m)
	}
	log.Info("Event bus ready", "type", appCfg.Bus.Type, "event_log", eventLogger != nil)

	subscriberCtx, stopSubscribers := context.WithCancel(context.Background())
	defer stopSubscribers()
	if m != nil {
		if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(subscriberCtx); err != nil {
			log.Warn("Failed to subscribe metrics to events", "error", err)
		}
	}

	// Scorer with cache
	var cacheMetrics scorer.CacheMetrics
	if m != nil {
		cacheMetrics = m
	}
	sc, scorerCloser, err := scorer.New(appCfg.Scorer, cacheMetrics, log)
	if err != nil {
		return fmt.Errorf("failed to create scorer: %w", err)
	}
	log.Info("Scorer ready", "type", appCfg.Scorer.Type, "cache", appCfg.Scorer.CacheType)

	evaluator := evaluation.NewEvaluator(sc,
		evaluation.WithEmptyReferencePolicy(evaluation.ParseEmptyReferencePolicy(appCfg.Eval.EmptyReference)))

	// Durable state
	backend, err := leaderboard.NewFileBackend(appCfg.Data.LeaderboardPath)
	if err != nil {
		return fmt.Errorf("failed to open leaderboard: %w", err)
	}
	board := leaderboard.NewStore(backend)
	entries, err := board.List()
	if err != nil {
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}
	log.Info("Leaderboard opened", "path", backend.Path(), "entries", len(entries))
	if m != nil {
		m.LeaderboardEntries.Set(float64(len(entries)))
	}

	artifacts, err := artifact.NewRegistry(appCfg.Data.UploadDir, appCfg.Data.DetailsDir)
	if err != nil {
		return err
	}

	pool := worker.NewPool(appCfg.Eval.Workers, appCfg.Eval.QueueWait)
	svc := submission.NewService(gt, evaluator, board, artifacts, pool, eventBus, log)

	srv := server.New(server.Config{
		Host:           appCfg.Host,
		Port:           appCfg.Port,
		Build:          server.BuildInfo{Version: version, Commit: commit, Date: date},
		MaxUploadBytes: appCfg.MaxUploadBytes(),
		ProgressBuffer: appCfg.Eval.ProgressBuffer,
		RateLimit:      appCfg.Security.RateLimit,
		CORSOrigins:    appCfg.Security.CORSOrigins,
		AdminToken:     appCfg.Security.AdminToken,
		MetricsPath:    appCfg.Observability.MetricsPath,
	}, svc, eventBus, eventLogger, m, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	select {
	case <-sigCh:
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server error", "error", err)
		}
	}

	// Graceful shutdown: stop taking requests, let running evaluations commit,
	// then release resources.
	shutdownTimeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Open submission requests wait on their evaluations, so the HTTP server
	// and the pool are drained together.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := srv.Stop(ctx); err != nil {
			log.Warn("HTTP shutdown incomplete", "error", err)
		}
	}()

	log.Info("Draining evaluations...")
	if svc.Drain(shutdownTimeout) {
		log.Info("All evaluations completed")
	} else {
		log.Warn("Shutdown timeout reached with running evaluations; interrupting", "stats", svc.Stats())
	}
	svc.Close()
	<-stopped

	stopSubscribers()
	if err := scorerCloser.Close(); err != nil {
		log.Warn("Error closing scorer cache", "error", err)
	}
	if err := eventBus.Close(); err != nil {
		log.Warn("Error closing event bus", "error", err)
	}

	log.Info("Server stopped")
	return nil
}
