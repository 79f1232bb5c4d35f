package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fentz26/cropcare/internal/analysis"
	"github.com/fentz26/cropcare/internal/audit"
	"github.com/fentz26/cropcare/internal/careplan"
	"github.com/fentz26/cropcare/internal/completion"
	"github.com/fentz26/cropcare/internal/config"
	"github.com/fentz26/cropcare/internal/controlplane"
	"github.com/fentz26/cropcare/internal/llm"
	"github.com/fentz26/cropcare/internal/metrics"
	"github.com/fentz26/cropcare/internal/notify"
	"github.com/fentz26/cropcare/internal/scheduler"
	"github.com/fentz26/cropcare/internal/store"
	"github.com/fentz26/cropcare/internal/treatment"
	"github.com/fentz26/cropcare/internal/weather"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the cropcare daemon",
	Long:  `Starts the cropcare daemon which serves the HTTP API and runs the background scheduler.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting cropcare daemon...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger := slog.Default()

	// Initialize store
	s, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}

	m := metrics.New()

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.NATSURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix)
		if err != nil {
			s.Close()
			return err
		}
		defer nn.Close()
		notifier = nn
		log.Printf("Publishing notifications to %s", cfg.Notify.NATSURL)
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = cfg.LLM.RetryAttempts
	if cfg.LLM.APIKey() == "" {
		log.Printf("Warning: %s is not set; plans will use the rule-based fallback", cfg.LLM.APIKeyEnv)
	}
	generator := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.Model,
		llm.WithAPIKey(cfg.LLM.APIKey()),
		llm.WithRetryConfig(retry),
		llm.WithLogger(logger))

	forecaster := weather.NewOpenMeteoClient(cfg.Weather.BaseURL, cfg.Weather.Timeout, weather.WithLogger(logger))

	catalog := treatment.Default()
	if cfg.Catalog.Path != "" {
		catalog, err = treatment.Load(cfg.Catalog.Path)
		if err != nil {
			s.Close()
			return err
		}
	}

	// Initialize components
	planner := careplan.NewSynthesizer(forecaster, generator, catalog,
		careplan.WithLogger(logger),
		careplan.WithMetrics(m),
		careplan.WithTimeout(cfg.LLM.PlanTimeout),
		careplan.WithGenerationParams(cfg.LLM.PlanMaxTokens, cfg.LLM.Temperature))
	analyzer := analysis.NewService(s, forecaster, generator, catalog,
		analysis.WithLogger(logger),
		analysis.WithMetrics(m),
		analysis.WithTimeout(cfg.LLM.AnalysisTimeout),
		analysis.WithGenerationParams(cfg.LLM.TaskMaxTokens, cfg.LLM.Temperature))
	tokens := completion.NewService(s, cfg.Server.PublicURL,
		completion.WithTTL(cfg.Tokens.TTL),
		completion.WithNotifier(notifier),
		completion.WithMetrics(m),
		completion.WithLogger(logger))
	decisions := audit.NewDecisionWriter(s, logger)

	// Create service and server
	service := controlplane.NewService(s, planner, analyzer, tokens, decisions,
		controlplane.WithNotifier(notifier),
		controlplane.WithLogger(logger))
	server := controlplane.NewServer(service, cfg.Server.Listen,
		controlplane.WithMetricsHandler(m.Handler()),
		controlplane.WithVersion(Version),
		controlplane.WithServerLogger(logger))

	// Create and start scheduler
	sched := scheduler.New(s, service, tokens, notifier, &cfg.Scheduler,
		scheduler.WithMetrics(m),
		scheduler.WithLogger(logger))
	sched.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			sched.Stop()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping scheduler...")
	sched.Stop()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
