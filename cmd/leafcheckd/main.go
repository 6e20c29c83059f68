// Package main is the entry point for the leafcheckd daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafcheck/leafcheckd/internal/checkin"
	"github.com/leafcheck/leafcheckd/internal/config"
	"github.com/leafcheck/leafcheckd/internal/gateway"
	"github.com/leafcheck/leafcheckd/internal/metrics"
	"github.com/leafcheck/leafcheckd/internal/notify"
	"github.com/leafcheck/leafcheckd/internal/scheduler"
	"github.com/leafcheck/leafcheckd/internal/store"
	"github.com/leafcheck/leafcheckd/internal/store/postgres"
	"github.com/leafcheck/leafcheckd/internal/store/resilient"
	"github.com/leafcheck/leafcheckd/internal/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "leafcheckd",
		Short:         "Scheduled auto check-in daemon with multi-channel notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("leafcheckd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and control-plane server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return run(cfgPath)
		},
	}
	cmd.Flags().StringP("config", "c", "leafcheckd.yaml", "path to the configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "leafcheckd.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			c, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Printf("%s is valid (backend: %s)\n", path, c.Storage.Backend)
			return nil
		},
	}
	cfg.AddCommand(validate)
	return cfg
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	logger.Info("leafcheckd starting", "version", version, "backend", cfg.Storage.Backend)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}

	mx := metrics.New()
	st := resilient.Wrap(backend, resilient.Config{
		MaxAttempts: cfg.Storage.MaxRetries,
		BaseDelay:   cfg.Storage.RetryBase.Std(),
		MaxDelay:    cfg.Storage.RetryMax.Std(),
	}, logger, mx)
	defer func() { _ = st.Close() }()

	executor := checkin.New(st, checkin.Config{
		SiteURL:    cfg.Checkin.SiteURL,
		CheckinURL: cfg.Checkin.CheckinURL,
		Timeout:    cfg.Checkin.Timeout.Std(),
		UserAgent:  cfg.Checkin.UserAgent,
	}, loc, logger, mx)

	dispatcher := notify.NewDispatcher(st, logger, mx)

	sched := scheduler.New(st, executor, dispatcher, scheduler.Config{
		Workers:  cfg.Scheduler.Workers,
		Location: loc,
	}, logger)
	if err := sched.Start(); err != nil {
		return err
	}

	gw := gateway.New(gateway.Config{
		Listen:    cfg.Server.Listen,
		JWTSecret: cfg.Server.JWTSecret,
		AdminUser: cfg.Server.AdminUser,
		AdminPass: cfg.Server.AdminPass,
		Location:  loc,
	}, st, sched, dispatcher, mx, logger)
	if err := gw.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("leafcheckd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
	return nil
}

func openBackend(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return postgres.Open(ctx, cfg.Storage.DSN)
	default:
		return sqlite.Open(cfg.Storage.Path)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
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
