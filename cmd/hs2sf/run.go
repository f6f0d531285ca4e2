package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"hs2sf/internal/companies"
	"hs2sf/internal/config"
	"hs2sf/internal/datasource/httpds"
	"hs2sf/internal/fieldmap"
	"hs2sf/internal/hubspot"
	"hs2sf/internal/ingest"
	"hs2sf/internal/metrics"
	"hs2sf/internal/metrics/datadog"
	"hs2sf/internal/metrics/prompush"
	"hs2sf/internal/migrate"
	"hs2sf/internal/storage"
	_ "hs2sf/internal/storage/all"
)

// app is one migration run.
type app struct {
	cfg   config.Config
	runID string
	in    io.Reader
	out   io.Writer
	log   *slog.Logger

	// transport replaces the HTTP transport of the HubSpot client.
	transport http.RoundTripper
}

// run downloads, builds and cleans up, printing progress to a.out.
func (a *app) run(ctx context.Context) (migrate.Stats, error) {
	var stats migrate.Stats
	printBanner(a.out)

	if a.cfg.Token == "" {
		token, err := promptToken(a.in, a.out)
		if err != nil {
			return stats, err
		}
		a.cfg.Token = token
	}

	if err := prepareOutputDir(a.cfg.OutputDir); err != nil {
		return stats, err
	}
	fmt.Fprintf(a.out, "Using output directory: %s\n", a.cfg.OutputDir)

	layout := migrate.Layout{Dir: a.cfg.OutputDir}
	repo, err := storage.New(ctx, storeConfig(a.cfg.Store, layout))
	if err != nil {
		return stats, fmt.Errorf("hs2sf: open company store: %w", err)
	}
	store := companies.New(repo)
	closed := false
	defer func() {
		if !closed {
			_ = repo.Close()
		}
	}()

	if err := a.download(ctx, store, layout); err != nil {
		return stats, err
	}
	stats, err = a.build(ctx, store, layout)
	if err != nil {
		return stats, err
	}

	closed = true
	if err := repo.Close(); err != nil {
		return stats, fmt.Errorf("hs2sf: close company store: %w", err)
	}
	if !a.cfg.KeepIntermediates {
		if err := migrate.Cleanup(layout, a.cfg.Store.Local()); err != nil {
			return stats, err
		}
	}

	fmt.Fprintln(a.out, statsTable(stats))
	printImportHelp(a.out, a.cfg.OutputDir)
	return stats, nil
}

func (a *app) download(ctx context.Context, store *companies.Store, layout migrate.Layout) (err error) {
	fmt.Fprintln(a.out, "\nDownloading HubSpot objects...")
	start := time.Now()
	defer func() { metrics.RecordStep("download", err, time.Since(start)) }()

	h := a.cfg.HubSpot
	getter := httpds.NewClient(httpds.Config{
		Timeout:        h.Timeout,
		MaxRetries:     h.MaxRetries,
		InitialBackoff: h.InitialBackoff,
		MaxBackoff:     h.MaxBackoff,
		Transport:      a.transport,
	})
	client, err := hubspot.New(hubspot.Config{
		Token:     a.cfg.Token,
		BaseURL:   h.BaseURL,
		PageLimit: h.PageLimit,
	}, getter)
	if err != nil {
		return err
	}

	var total int64
	o, err := ingest.New(ingest.Config{
		Pager:  client,
		Store:  store,
		Layout: ingest.Layout{Contacts: layout.Contacts(), Deals: layout.Deals()},
		Progress: func(n int64) {
			total = n
			fmt.Fprintf(a.out, "\rDownloading... %s", humanize.Bytes(uint64(n)))
		},
		Logger: a.log,
	})
	if err != nil {
		return err
	}
	if _, err := o.Run(ctx); err != nil {
		fmt.Fprintln(a.out)
		return err
	}
	fmt.Fprintf(a.out, "\nDone downloading %s in %.2fs\n", humanize.Bytes(uint64(total)), time.Since(start).Seconds())
	return nil
}

func (a *app) build(ctx context.Context, store *companies.Store, layout migrate.Layout) (stats migrate.Stats, err error) {
	fmt.Fprintln(a.out, "\nBuilding Salesforce CSVs...")
	start := time.Now()
	defer func() { metrics.RecordStep("build", err, time.Since(start)) }()

	presence := fieldmap.Truthy
	if a.cfg.StrictRequired {
		presence = fieldmap.NonNull
	}
	stats, err = migrate.Build(ctx, layout, store, migrate.Options{
		LocalStore: a.cfg.Store.Local(),
		Presence:   presence,
		Progress: func(status string) {
			fmt.Fprintf(a.out, "\rBuilding... %s", status)
		},
		Logger: a.log,
	})
	fmt.Fprintln(a.out)
	if err != nil {
		return stats, err
	}
	fmt.Fprintf(a.out, "Done building in %.2fs\n\n", time.Since(start).Seconds())
	return stats, nil
}

// prepareOutputDir creates dir when absent and fails when it has entries.
func prepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hs2sf: create output directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("hs2sf: read output directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("hs2sf: output directory %q is not empty", dir)
	}
	return nil
}

// storeConfig places a local sqlite store in the output directory.
func storeConfig(s config.Store, layout migrate.Layout) storage.Config {
	if s.Local() {
		return storage.Config{Kind: s.Kind, DSN: layout.Companies()}
	}
	return storage.Config{Kind: s.Kind, DSN: s.DSN}
}

// setupMetrics installs the configured backend and returns its flush. An
// unusable backend is logged and metrics stay disabled.
func setupMetrics(m config.Metrics, runID string, log *slog.Logger) func() error {
	var (
		b   metrics.Backend
		err error
	)
	switch m.Backend {
	case "prompush":
		b, err = prompush.NewBackend(m.Job, m.PushgatewayURL, runID)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       m.DatadogAddr,
			Namespace:  m.Namespace,
			GlobalTags: []string{"run_id:" + runID},
		})
	default:
		log.Debug("metrics: disabled", slog.String("backend", m.Backend))
		return func() error { return nil }
	}
	if err != nil {
		log.Warn("metrics: backend unavailable; using nop", slog.String("backend", m.Backend), slog.Any("error", err))
		return func() error { return nil }
	}
	log.Info("metrics: enabled", slog.String("backend", m.Backend))
	metrics.SetBackend(b)
	return metrics.Flush
}

// newLogger writes text logs to w at the configured level.
func newLogger(w io.Writer, level, runID string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With(slog.String("run_id", runID)), nil
}
