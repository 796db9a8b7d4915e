package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/calcwatch/internal/control"
	"github.com/vietddude/calcwatch/internal/core/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single monitor cycle and exit")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Optional .env for local runs; config values expand from the environment.
	_ = godotenv.Load()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Simplified logging logic (debug < info)
	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})))
	slog.Info("Logger initialized", "level", slogLevel.String())

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracker
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize tracker", "error", err)
		os.Exit(1)
	}

	// Single-cycle mode: used from scheduler epilogue hooks so a finished
	// job is settled without waiting for the next poll tick.
	if *once {
		if err := app.Monitor().RunOnce(ctx); err != nil {
			slog.Error("Monitor cycle failed", "error", err)
			os.Exit(1)
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		app.Stop(shutdownCtx)
		return
	}

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start App (blocks in the monitor loop)
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start(ctx)
	}()

	// Wait for Signal
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("Tracker stopped with error", "error", err)
		}
	}

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	app.Stop(shutdownCtx)

	slog.Info("Tracker stopped gracefully")
}
