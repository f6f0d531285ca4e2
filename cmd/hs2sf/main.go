// Command hs2sf downloads companies, contacts and deals from HubSpot and
// builds CSV files for the Salesforce Data Import Wizard.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hs2sf/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	var (
		cfgFile  string
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "hs2sf",
		Short: "Migrate HubSpot companies, contacts and deals to Salesforce CSVs",
		Long: `hs2sf downloads HubSpot companies, contacts and deals and builds
accounts_contacts.csv and opportunities.csv for the Salesforce Data Import
Wizard. Rows that cannot be imported go to errors_*.csv with the reason in
the Error column.

The HubSpot token is read from HUBSPOT_TOKEN, or prompted for.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			issues := config.Validate(cfg)
			for _, iss := range issues {
				fmt.Fprintf(errOut, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if err := config.Err(issues); err != nil {
				return fmt.Errorf("hs2sf: invalid configuration: %w", err)
			}
			if validate {
				fmt.Fprintln(out, "Configuration is valid")
				return nil
			}

			runID := uuid.NewString()
			log, err := newLogger(errOut, cfg.LogLevel, runID)
			if err != nil {
				return err
			}
			flush := setupMetrics(cfg.Metrics, runID, log)
			defer func() {
				if err := flush(); err != nil {
					log.Warn("metrics: flush failed", "error", err)
				}
			}()

			a := &app{cfg: cfg, runID: runID, in: in, out: out, log: log}
			_, err = a.run(cmd.Context())
			return err
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	f.StringP("output-dir", "o", config.DefaultOutputDir, "output directory for CSV files; must be empty")
	f.String("base-url", config.DefaultBaseURL, "HubSpot API base URL (https only)")
	f.Int("page-limit", config.DefaultPageLimit, "objects per HubSpot page (1-100)")
	f.Int("max-retries", config.DefaultMaxRetries, "retries per HubSpot request")
	f.Duration("timeout", 30*time.Second, "timeout of one HubSpot request")
	f.String("store", config.DefaultStoreKind, "company store backend (sqlite|postgres)")
	f.String("store-dsn", "", "company store DSN; empty keeps sqlite in the output directory")
	f.Bool("strict-required", false, "treat only null as a missing required value")
	f.Bool("keep-intermediates", false, "keep downloaded files after the build")
	f.String("metrics", config.DefaultMetricsKind, "metrics backend (none|prompush|datadog)")
	f.String("pushgateway", "", "Prometheus Pushgateway URL")
	f.String("statsd-addr", "", "DogStatsD address")
	f.String("log-level", config.DefaultLogLevel, "log level (debug|info|warn|error)")

	_ = cmd.RegisterFlagCompletionFunc("store", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "postgres"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("metrics", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"none", "prompush", "datadog"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}
