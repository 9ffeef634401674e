package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/config"
	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/db"
	"github.com/cloud-shuttle/fieldsync/internal/dispatch"
	"github.com/cloud-shuttle/fieldsync/internal/events"
	"github.com/cloud-shuttle/fieldsync/internal/fixture"
	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/metrics"
	"github.com/cloud-shuttle/fieldsync/internal/policy"
	"github.com/cloud-shuttle/fieldsync/internal/reconcile"
	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/internal/session"
)

// app holds the wired components shared by the commands
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *db.Store
	schema   *schema.Schema
	diagram  *lifecycle.Diagram
	conv     *convert.Pipeline
	days     *clock.Resolver
	compiler *schedule.Compiler
	sessions *session.Registry
	hub      *events.Hub
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	source   *fixture.Source
}

// newApp opens storage and builds the schedule components. The reconcile
// engine is built separately because serve decides how to forward.
func newApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}

	s, err := schema.New(cfg.Logic)
	if err != nil {
		return nil, fmt.Errorf("loading logic configuration: %w", err)
	}
	days, err := clock.New(cfg.Logic.FakeDate)
	if err != nil {
		return nil, err
	}

	source := fixture.Demo()
	if cfg.ScheduleFixture != "" {
		if source, err = fixture.Load(cfg.ScheduleFixture); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	diagram := lifecycle.New(s.States())
	conv := convert.New(s)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		schema:  s,
		diagram: diagram,
		conv:    conv,
		days:    days,
		compiler: schedule.NewCompiler(schedule.Deps{
			Store:     store,
			Schema:    s,
			Diagram:   diagram,
			Policy:    policy.New(diagram, s.StatusProperty(), s.Dripfeed()),
			Converter: conv,
			Days:      days,
			Logger:    logger,
		}),
		sessions: session.NewRegistry(store),
		hub:      events.NewHub(),
		registry: reg,
		metrics:  metrics.New(reg),
		source:   source,
	}, nil
}

// engine builds the reconcile engine. fwd may be nil when outbound
// forwarding is disabled.
func (a *app) engine(fwd reconcile.Forwarder) *reconcile.Engine {
	return reconcile.New(reconcile.Deps{
		Store:     a.store,
		Sessions:  a.sessions,
		Push:      a.hub,
		Compiler:  a.compiler,
		Schema:    a.schema,
		Diagram:   a.diagram,
		Policy:    policy.New(a.diagram, a.schema.StatusProperty(), a.schema.Dripfeed()),
		Converter: a.conv,
		Forwarder: fwd,
		Source:    a.source,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
}

func (a *app) dispatcher(engine *reconcile.Engine) *dispatch.Interface {
	return dispatch.New(a.schema, a.conv, engine, a.metrics, a.logger)
}

func (a *app) Close() error {
	a.hub.Close()
	return a.store.Close()
}
