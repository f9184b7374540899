// Command archiver harvests Prothom Alo articles into local dataset files.
// It reads config.yaml next to the binary (override with -config), walks the
// date windows since the stored cursor, and exits 0 on success.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/khobor-khoni/palo-archiver/internal/archive"
	"github.com/khobor-khoni/palo-archiver/internal/config"
	"github.com/khobor-khoni/palo-archiver/internal/domain"
	"github.com/khobor-khoni/palo-archiver/internal/logger"
	"github.com/khobor-khoni/palo-archiver/pkg/httpclient"
	"github.com/khobor-khoni/palo-archiver/pkg/palo"
	"github.com/khobor-khoni/palo-archiver/pkg/publishers"
	"github.com/khobor-khoni/palo-archiver/pkg/sinks"
	"github.com/khobor-khoni/palo-archiver/pkg/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the harvester configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "archiver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Optional .env next to the binary; credentials referenced from the
	// publishers file live there.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failures are expected

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := sinks.New(cfg.Output.Format, cfg.Output.Dir)
	if err != nil {
		return err
	}
	defer sink.Close()

	pubs, err := buildPublishers(ctx, cfg, log)
	if err != nil {
		return err
	}

	httpClient := httpclient.NewRestyClient(cfg.Timeout())
	client := palo.NewClient(httpClient, cfg.API.BaseURL, cfg.API.PageLimit, cfg.API.Headers)

	var enricher *archive.Enricher
	if cfg.Enrich.Enabled {
		enricher = archive.NewEnricher(
			httpClient,
			cfg.Enrich.Workers,
			time.Duration(cfg.Enrich.RequestDelayMs)*time.Millisecond,
			cfg.API.Headers,
			log,
		)
	}

	runner := archive.NewRunner(client, sink, store, pubs, enricher, log, archive.Options{
		Start:            cfg.StartDateTime(),
		Window:           cfg.Window(),
		MaxArticles:      cfg.Harvest.MaxArticles,
		MinPause:         time.Duration(cfg.Harvest.MinPauseSec) * time.Second,
		MaxPause:         time.Duration(cfg.Harvest.MaxPauseSec) * time.Second,
		FailureThreshold: cfg.Harvest.FailureThreshold,
		Dedupe:           cfg.State.Dedupe,
		Retry: archive.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			Multiplier:   cfg.Retry.BackoffMultiplier,
		},
	})

	summary, runErr := runner.Run(ctx)
	printSummary(summary)

	if runErr != nil {
		return fmt.Errorf("harvest run failed: %w", runErr)
	}
	return nil
}

// buildPublishers loads the optional publishers file and instantiates every
// enabled entry.
func buildPublishers(ctx context.Context, cfg *config.Config, log logger.Logger) ([]publishers.Publisher, error) {
	if cfg.Publishers.File == "" {
		return nil, nil
	}

	reg, err := publishers.LoadRegistry(cfg.Publishers.File)
	if err != nil {
		return nil, fmt.Errorf("load publishers: %w", err)
	}

	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), reg.Enabled(), log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	return pubs, nil
}

// printSummary writes the run totals to stdout so operators see them even
// without log access.
func printSummary(s domain.RunSummary) {
	fmt.Printf("windows=%d window_failures=%d pages=%d fetched=%d accepted=%d skipped=%d deduped=%d persisted=%d retries=%d elapsed=%s\n",
		s.Windows, s.WindowFailures, s.Pages, s.Fetched, s.Accepted, s.Skipped, s.Deduped, s.Persisted, s.Retries, s.Elapsed)
}
