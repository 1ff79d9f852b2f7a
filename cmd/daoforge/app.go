package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"daoforge/internal/blob"
	"daoforge/internal/catalog"
	"daoforge/internal/config"
	"daoforge/internal/core"
	"daoforge/internal/logging"
)

// app owns the service and everything that must be released on exit.
type app struct {
	svc      *core.Service
	logger   *logging.Adapter
	store    core.PersistentStore
	registry *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
	cfg      config.Config
	closers  []io.Closer
}

func newApp(ctx context.Context, cfg config.Config, stderr io.Writer) (*app, error) {
	zl, err := logging.New(stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logging.NewAdapter(zl), cfg: cfg}
	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithCacheTTL(cfg.Template.CacheTTL),
		core.WithDefaultFinancePeriod(cfg.Template.FinancePeriod),
		core.WithCouncilToken(cfg.Template.CouncilTokenName, cfg.Template.CouncilTokenSymbol),
		core.WithNameRegistrar(core.NewFIFSRegistrar(cfg.Template.NameDomain)),
	}

	if cfg.Template.Catalog != "" {
		c, err := catalog.LoadFile(cfg.Template.Catalog)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithCatalog(c))
	}

	switch cfg.Observability.Metrics {
	case config.MetricsExpvar:
		a.expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(a.expvar))
	case config.MetricsPrometheus:
		a.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.registry)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}

	if cfg.Observability.TraceFile != "" {
		f, err := os.OpenFile(cfg.Observability.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}

	if cfg.Blob.Enabled() {
		store, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		opts = append(opts, core.WithReceiptArchive(core.NewReceiptArchive(store)))
	}

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine(), cfg.Storage)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.svc = core.NewService(store, opts...)
	a.logger.Debug("service ready", "storage", string(cfg.Storage.Driver), "archive", string(cfg.Blob.Driver))
	return a, nil
}

// Close flushes metrics and releases the ledger and trace file.
func (a *app) Close() error {
	var first error
	if a.registry != nil && a.cfg.Observability.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Observability.MetricsFile, a.registry); err != nil {
			first = fmt.Errorf("write metrics: %w", err)
		}
	}
	if a.expvar != nil {
		snap := a.expvar.Snapshot()
		a.logger.Debug("operation metrics", "results", snap.Results, "durations_ms", snap.DurationsMS)
	}
	if err := a.closeAll(); err != nil && first == nil {
		first = err
	}
	return first
}

func (a *app) closeAll() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
