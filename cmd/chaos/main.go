package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookshelf/internal/bookshelf"
	"bookshelf/internal/chaos"
	"bookshelf/internal/clients"
	"bookshelf/internal/eventstore"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newGameDayCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Chaos Game Day failed: %v\n", err)
		os.Exit(1)
	}
}

func newGameDayCmd() *cobra.Command {
	settings := chaos.DefaultSettings()
	var (
		name  string
		seed  uint64
		pause time.Duration
	)

	cmd := &cobra.Command{
		Use:           "chaos",
		Short:         "Run the journal game day against an in-process bookshelf",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameDay(cmd.Context(), cmd.OutOrStdout(), name, seed, pause, settings)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&name, "name", "Weekly Chaos Game Day", "game day name")
	flags.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "fault injection seed")
	flags.DurationVar(&pause, "pause", 0, "pause between experiments")
	flags.DurationVar(&settings.Duration, "duration", settings.Duration, "observation window per experiment")
	flags.DurationVar(&settings.SampleInterval, "interval", settings.SampleInterval, "sampling interval")
	flags.IntVar(&settings.ProbeBatch, "batch", settings.ProbeBatch, "probe creates per sample")
	flags.Float64Var(&settings.FailureRate, "failure-rate", settings.FailureRate, "fraction of journal appends to fail")
	flags.DurationVar(&settings.Latency, "latency", settings.Latency, "latency added to journal appends")
	flags.IntVar(&settings.Writers, "writers", settings.Writers, "simultaneous writers")
	return cmd
}

// runGameDay drives the experiments through the HTTP client so that the
// router, codec and rate limiter are part of the blast radius.
func runGameDay(ctx context.Context, out io.Writer, name string, seed uint64, pause time.Duration, settings chaos.Settings) error {
	journal := chaos.NewFaultyJournal(eventstore.NewMemoryStore(), seed)
	svc := bookshelf.NewService(journal)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := httptest.NewServer(bookshelf.NewRouter(bookshelf.NewHandler(svc), nil, logger))
	defer server.Close()
	client := clients.NewBookshelfClient(server.URL, server.Client())

	engine := chaos.NewEngine()
	engine.RegisterExperiments(journal, client, settings)

	failed, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      name,
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     pause,
	}, out)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(engine.Experiments()))
	}
	return nil
}
