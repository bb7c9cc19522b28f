package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ultaai-agent/internal/cli"
	"ultaai-agent/internal/config"
	"ultaai-agent/internal/ctxlog"
)

// main is the entrypoint for the agent.
func main() {
	// Use a minimal logger until the configured one is ready.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run parses the configuration, assembles the agent and serves until ctx
// is cancelled.
func run(ctx context.Context, outW io.Writer, args []string) error {
	cfg, shouldExit, err := cli.Parse(args, outW, nil)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger, closeLog, err := openLogger(cfg, os.Stderr)
	if err != nil {
		return &cli.ExitError{Code: 2, Message: err.Error()}
	}
	defer closeLog()
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// openLogger writes to cfg.LogFile, appending, or to fallback when unset.
func openLogger(cfg *config.Config, fallback io.Writer) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return ctxlog.New(cfg.LogLevel, cfg.LogFormat, fallback), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return ctxlog.New(cfg.LogLevel, cfg.LogFormat, f), func() { f.Close() }, nil
}
