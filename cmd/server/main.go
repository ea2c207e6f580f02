package main

// Package main is the entry point for aeonsaged, the operation authorization
// daemon.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Wire the threat scanner, policy gates, PIN authenticator, kill switch,
//     audit trail, and decision history together
//   - Serve the authorization API and the WebSocket event stream
//   - Implement graceful shutdown with context cancellation
//
// The -resume flag clears an engaged kill switch and exits. This is the only
// way to clear it; the HTTP API can engage the switch but never clear it.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aeonsage/aeonsage/internal/config"
	"github.com/aeonsage/aeonsage/internal/killswitch"
	"github.com/aeonsage/aeonsage/internal/server"
	"github.com/aeonsage/aeonsage/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	resume := flag.Bool("resume", false, "clear an engaged kill switch and exit")
	flag.Parse()

	ctx := context.Background()

	var mgr config.Manager
	if *configPath != "" {
		mgr = config.NewManager(*configPath)
	} else {
		mgr = config.NewManagerWithDefaults()
	}

	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logger, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *resume {
		os.Exit(runResume(cfg, logger))
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Shutdown complete")
}

// runResume clears a persisted kill switch from the host. It exists as a CLI
// path only so that clearing requires shell access to the machine.
func runResume(cfg *config.Config, logger *zap.Logger) int {
	ctx := context.Background()

	killStore := store.NewFileKillStateStore(
		filepath.Join(cfg.Storage.DataDir, cfg.Storage.KillSwitchFile))
	sw, err := killswitch.New(ctx, killStore, nil, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load kill switch state: %v\n", err)
		return 1
	}

	if !sw.Killed() {
		fmt.Println("Kill switch is not engaged; nothing to do")
		return 0
	}

	state := sw.State()
	if err := sw.Resume(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear kill switch: %v\n", err)
		return 1
	}

	fmt.Printf("Kill switch cleared (was engaged at %s by %q: %s)\n",
		state.KilledAt.Format("2006-01-02 15:04:05 MST"), state.KilledBy, state.Reason)
	return 0
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	if format == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}
