package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/gwimport/internal/checkpoint"
	"github.com/roach88/gwimport/internal/commit"
	"github.com/roach88/gwimport/internal/config"
	"github.com/roach88/gwimport/internal/engine"
	"github.com/roach88/gwimport/internal/httpapi"
	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/platform"
	"github.com/roach88/gwimport/internal/source"
)

// app holds the collaborators a command needs, built from the resolved
// configuration.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	connector *source.Connector
	platform  *platform.HTTPClient
	committer *commit.Committer

	backend     *checkpoint.SQLiteBackend
	checkpoints *checkpoint.Store

	registry    *prometheus.Registry
	metricsFile string
}

// openApp validates the configuration and wires the HTTP clients, the
// committer and the checkpoint database.
func (o *RootOptions) openApp() (*app, error) {
	cfg := o.Config
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	a := &app{cfg: cfg, logger: o.logger(), metricsFile: o.MetricsFile}

	common := []httpapi.Option{
		httpapi.WithToken(cfg.Token),
		httpapi.WithTimeout(cfg.Timeout),
		httpapi.WithLogger(a.logger),
	}
	platformOpts := common
	if cfg.RateLimit > 0 {
		platformOpts = append(platformOpts, httpapi.WithWriteRate(cfg.RateLimit, cfg.RateBurst))
	}
	a.platform = platform.NewHTTPClient(httpapi.New(cfg.PlatformURL, platformOpts...))
	a.connector = source.NewConnector(
		source.NewHTTPFetcher(httpapi.New(cfg.SourceBaseURL(), common...), cfg.Tenant),
		a.logger,
	)

	var metrics *commit.Metrics
	if a.metricsFile != "" {
		a.registry = prometheus.NewRegistry()
		m, err := commit.NewMetrics(a.registry)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		metrics = m
	}
	a.committer = commit.New(a.platform, commit.WithMetrics(metrics), commit.WithLogger(a.logger))

	backend, store, err := o.openCheckpoints()
	if err != nil {
		return nil, err
	}
	a.backend, a.checkpoints = backend, store
	return a, nil
}

// openCheckpoints opens the checkpoint database. Only the tenant and the
// database path need to be configured.
func (o *RootOptions) openCheckpoints() (*checkpoint.SQLiteBackend, *checkpoint.Store, error) {
	if o.Config.Tenant == "" {
		return nil, nil, NewExitError(ExitCommandError, "tenant is required (GWIMPORT_TENANT or --tenant)")
	}
	o.logger().Debug("opening checkpoint database", "path", o.Config.DBPath)
	backend, err := checkpoint.OpenSQLite(o.Config.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return backend, checkpoint.NewStore(backend, o.logger()), nil
}

// session starts a new import session for the configured tenant.
func (a *app) session() (*engine.Session, error) {
	s, err := engine.NewSession(engine.Config{
		Catalog:     a.connector,
		Platform:    a.platform,
		Committer:   a.committer,
		Checkpoints: a.checkpoints,
		Tenant:      a.cfg.Tenant,
		Logger:      a.logger,
		OnComplete: func(r model.CommitResult) {
			a.logger.Info("batch finished", "committed", len(r.Committed), "failed", len(r.Failures))
		},
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start session", err)
	}
	return s, nil
}

// Close writes the metrics file, if any, and closes the database.
func (a *app) Close() error {
	var errs []error
	if a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
