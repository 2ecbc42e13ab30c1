package aegisarchive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisArchive/internal/adapters/facade"
	"github.com/ghalamif/AegisArchive/internal/adapters/httpapi"
	"github.com/ghalamif/AegisArchive/internal/adapters/observability"
	"github.com/ghalamif/AegisArchive/internal/adapters/opcua"
	"github.com/ghalamif/AegisArchive/internal/adapters/ratelimit"
	"github.com/ghalamif/AegisArchive/internal/adapters/simsub"
	"github.com/ghalamif/AegisArchive/internal/adapters/wal"
	"github.com/ghalamif/AegisArchive/internal/app/engine"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	facade           Facade
	catalog          Catalog
	subscriber       Subscriber
	filterSubscriber Subscriber
	wal              WAL
	observability    Observability
	logger           *zap.Logger
	registry         *prometheus.Registry
	tap              SampleBatchFunc
}

// WithFacade injects a custom persistence backend.
func WithFacade(f Facade) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.facade = f
	}
}

// WithCatalog reads the engine configuration from c instead of the facade.
func WithCatalog(c Catalog) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.catalog = c
	}
}

// WithSubscriber injects a custom live data source for channels.
func WithSubscriber(s Subscriber) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.subscriber = s
	}
}

// WithFilterSubscriber injects the data source used by group filters. It
// defaults to the channel subscriber, rate limited to Policy.FilterMaxRate.
func WithFilterSubscriber(s Subscriber) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.filterSubscriber = s
	}
}

// WithWAL spools batches to w while the backend is unavailable.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithSampleTap delivers every batch the backend accepted to fn.
func WithSampleTap(fn SampleBatchFunc) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.tap = fn
	}
}

// Runtime wires subscriber → engine → writer → facade and exposes simple
// lifecycle hooks for embedding the archiver inside any Go service.
type Runtime struct {
	cfg       *Config
	logger    *zap.Logger
	obs       ports.Observability
	engine    *engine.Engine
	http      *httpapi.Server
	sim       *simsub.Subscriber
	closers   []func(context.Context) error
	ownLogger bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	started bool
}

// NewRuntime bootstraps the default adapters (OPC UA or simulated source,
// PostgreSQL facade, optional file spool, Prometheus observability). Callers
// can use RuntimeOption values to override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = rt.closeAll(context.Background())
		}
	}()

	rt.logger = overrides.logger
	if rt.logger == nil {
		l, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, err
		}
		rt.logger = l
		rt.ownLogger = true
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rt.obs = overrides.observability
	if rt.obs == nil {
		prom, err := observability.NewPromObs(reg, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.obs = prom
	}

	fac, err := rt.buildFacade(overrides)
	if err != nil {
		return nil, err
	}

	catalog := overrides.catalog
	if catalog == nil && cfg.Catalog != nil {
		catalog = cfg.Catalog
	}

	sub, err := rt.buildSubscriber(overrides)
	if err != nil {
		return nil, err
	}
	filterSub := overrides.filterSubscriber
	if filterSub == nil {
		pol := cfg.Policy
		pol.ApplyDefaults()
		filterSub = ratelimit.New(sub, pol.FilterMaxRate)
	}

	rt.engine = engine.New(cfg.Engine.Name, engine.Deps{
		Facade:           fac,
		Catalog:          catalog,
		Subscriber:       sub,
		FilterSubscriber: filterSub,
		Obs:              rt.obs,
		Policy:           cfg.Policy,
	})
	rt.http = httpapi.NewServer(rt.engine, reg, rt.logger)

	ok = true
	return rt, nil
}

func (rt *Runtime) buildFacade(o runtimeOverrides) (ports.Facade, error) {
	cfg := rt.cfg
	fac := o.facade
	switch {
	case fac != nil:
	case cfg.Database.ConnString != "":
		db, err := sql.Open("postgres", cfg.Database.ConnString)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		rt.closers = append(rt.closers, func(context.Context) error { return db.Close() })
		fac = facade.NewSQL(db, facade.SQLConfig{Schema: cfg.Database.Schema, Retry: cfg.Retry})
	default:
		rt.logger.Warn("no database configured, samples are kept in memory")
		fac = facade.NewMemory()
	}

	if o.tap != nil {
		fac = &tapFacade{Facade: fac, fn: o.tap, obs: rt.obs}
	}

	w := o.wal
	if w == nil && cfg.WAL.Dir != "" {
		fw, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return fw.Close() })
		w = fw
	}
	if w != nil {
		pol := cfg.Policy
		pol.ApplyDefaults()
		fac = facade.NewSpooling(fac, w, rt.obs, pol.MaxSpoolBytes)
	}
	return fac, nil
}

func (rt *Runtime) buildSubscriber(o runtimeOverrides) (ports.Subscriber, error) {
	if o.subscriber != nil {
		return o.subscriber, nil
	}
	switch rt.cfg.Source.Kind {
	case SourceSim:
		rt.sim = simsub.New()
		return rt.sim, nil
	default:
		s, err := opcua.NewSubscriber(rt.cfg.OPCUA, rt.obs)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		return s, nil
	}
}

// Engine exposes the underlying engine for status queries and runtime
// membership changes.
func (rt *Runtime) Engine() *Engine { return rt.engine }

// Server exposes the HTTP API so callers can mount it on their own router.
func (rt *Runtime) Server() *httpapi.Server { return rt.http }

// Start loads the catalog, starts acquisition and the HTTP server. It
// returns immediately; call Run to block on a context instead. Catalog
// entries that cannot be loaded are logged and skipped.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return nil
	}

	if err := rt.engine.Load(ctx); err != nil {
		if rt.engine.Config() == nil {
			return err
		}
		rt.logger.Warn("catalog_partially_loaded", zap.Error(err))
	}
	if err := rt.engine.Start(ctx); err != nil {
		rt.logger.Warn("engine_started_with_errors", zap.Error(err))
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.started = true

	if addr := rt.cfg.Metrics.Addr; addr != "" {
		rt.bg.Add(1)
		go func() {
			defer rt.bg.Done()
			if err := rt.http.ListenAndServe(bgCtx, addr); err != nil {
				rt.logger.Error("http_server_exited", zap.Error(err))
			}
		}()
	}

	if rt.sim != nil {
		names := rt.simulatedNames()
		rt.bg.Add(1)
		go func() {
			defer rt.bg.Done()
			rt.sim.Simulate(bgCtx, names, rt.cfg.Source.SimPeriod, time.Now().UnixNano())
		}()
	}
	return nil
}

// simulatedNames covers channels and filter variables.
func (rt *Runtime) simulatedNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, ch := range rt.engine.Channels() {
		add(ch.Name())
	}
	for _, g := range rt.engine.Groups() {
		if f := g.Filter(); f != nil {
			for _, v := range f.Variables() {
				add(v)
			}
		}
	}
	return names
}

// Run starts the runtime and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	timeout := rt.cfg.Policy.FacadeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown stops acquisition, flushes buffered samples and releases the
// source, the spool and the database connection.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var errs []error
	if rt.started {
		rt.started = false
		if err := rt.engine.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		rt.cancel()
		rt.bg.Wait()
	}
	if err := rt.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *Runtime) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if rt.ownLogger && rt.logger != nil {
		_ = rt.logger.Sync()
	}
	return errors.Join(errs...)
}
