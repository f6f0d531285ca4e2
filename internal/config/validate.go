package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"go.uber.org/multierr"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// maxPageLimit is the largest page size the CRM list endpoints accept.
const maxPageLimit = 100

// Issue describes a single validation finding.
//
// Path is the dotted config key (e.g. "hubspot.page_limit"). Message is
// human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static checks over c. It does not mutate c.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output_dir",
			Message:  "output_dir must not be empty",
		})
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log_level",
			Message:  err.Error(),
		})
	}
	issues = append(issues, validateHubSpot(c.HubSpot)...)
	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

// Err joins the error-severity issues into one error, or returns nil.
func Err(issues []Issue) error {
	var err error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			err = multierr.Append(err, iss)
		}
	}
	return err
}

// ParseLevel accepts the slog level names, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("unknown log level %q; want debug, info, warn or error", s)
	}
	return l, nil
}

func validateHubSpot(h HubSpot) []Issue {
	var issues []Issue

	u, err := url.Parse(h.BaseURL)
	switch {
	case err != nil || u.Host == "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.base_url",
			Message:  fmt.Sprintf("base_url %q is not an absolute URL", h.BaseURL),
		})
	case u.Scheme != "https":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.base_url",
			Message:  "only https protocol is allowed",
		})
	}

	if h.PageLimit < 1 || h.PageLimit > maxPageLimit {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.page_limit",
			Message:  fmt.Sprintf("page_limit must be between 1 and %d (got %d)", maxPageLimit, h.PageLimit),
		})
	}
	if h.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.max_retries",
			Message:  "max_retries must be >= 0",
		})
	}
	if h.Timeout <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.timeout",
			Message:  "timeout must be > 0",
		})
	}
	if h.InitialBackoff <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "hubspot.initial_backoff",
			Message:  "initial_backoff must be > 0",
		})
	} else if h.MaxBackoff < h.InitialBackoff {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "hubspot.max_backoff",
			Message:  fmt.Sprintf("max_backoff %s is below initial_backoff %s; every retry waits max_backoff", h.MaxBackoff, h.InitialBackoff),
		})
	}
	return issues
}

func validateStore(s Store) []Issue {
	var issues []Issue

	switch s.Kind {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.dsn",
				Message:  "postgres store requires a dsn",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  "store.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  fmt.Sprintf("unknown store kind %q; want sqlite or postgres", s.Kind),
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "prompush":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prompush backend requires pushgateway_url",
			})
		}
		if strings.TrimSpace(m.Job) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.job",
				Message:  "empty job; the default job name is used",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prompush or datadog", m.Backend),
		})
	}
	return issues
}
