package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookshelf/internal/bookshelf"
	"bookshelf/internal/config"
	"bookshelf/internal/eventstore"
	"bookshelf/internal/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const (
	serviceName    = "bookshelf"
	journalMaxWait = 30 * time.Second
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Personal book registry over HTTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(cfg))
	return root
}

func newServeCmd(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := serve(cmd.Context(), cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "interface to listen on")
	flags.StringVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	flags.StringVar(&cfg.JournalDSN, "journal-dsn", cfg.JournalDSN, "PostgreSQL DSN for the book journal; empty keeps it in memory")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "mutating requests per second")
	flags.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "burst size for mutating requests")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	svc := bookshelf.NewService(journal)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           bookshelf.NewRouter(bookshelf.NewHandler(svc), limiter, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bookshelf listening", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openJournal(ctx context.Context, cfg config.Config, logger *slog.Logger) (eventstore.Store, func(), error) {
	if cfg.JournalDSN == "" {
		logger.Info("journaling to memory")
		return eventstore.NewMemoryStore(), func() {}, nil
	}

	store, err := eventstore.OpenPostgres(ctx, cfg.JournalDSN, journalMaxWait)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	logger.Info("journaling to postgres")
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}, nil
}
