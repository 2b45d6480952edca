package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/convertidor/internal/bus"
	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/discovery"
	"github.com/loqalabs/convertidor/internal/eventstore"
	"github.com/loqalabs/convertidor/internal/handlers"
	"github.com/loqalabs/convertidor/internal/httpapi"
	"github.com/loqalabs/convertidor/internal/i18n"
	"github.com/loqalabs/convertidor/internal/natsserver"
	"github.com/loqalabs/convertidor/internal/plugins"
	"github.com/loqalabs/convertidor/internal/skill"
	"github.com/loqalabs/convertidor/internal/skillbus"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	store       *eventstore.Store
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	skillbus    *skillbus.Service
	registry    *discovery.Registry
	addr        atomic.Value
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Components is everything needed to answer requests outside of the
// long-running server.
type Components struct {
	Skill   *skill.Skill
	Catalog i18n.Catalog
	Plugins []*plugins.Plugin
}

// BuildSkill assembles the skill from configuration. store may be nil.
func BuildSkill(cfg config.Config, store *eventstore.Store, logger *slog.Logger) (Components, error) {
	catalog := i18n.Default()
	if path := cfg.Skill.CatalogPath; path != "" {
		loaded, err := i18n.Load(path)
		if err != nil {
			return Components{}, fmt.Errorf("load catalog: %w", err)
		}
		if err := i18n.Validate(loaded); err != nil {
			return Components{}, fmt.Errorf("validate catalog: %w", err)
		}
		catalog = loaded
	}

	var loadedPlugins []*plugins.Plugin
	if cfg.Plugins.Enabled {
		var err error
		loadedPlugins, err = plugins.Load(cfg.Plugins.Directory, plugins.Options{
			Timeout:      time.Duration(cfg.Plugins.TimeoutMS) * time.Millisecond,
			Store:        store,
			AuditPrivacy: cfg.Skill.AuditPrivacy,
			Logger:       logger,
		})
		if err != nil {
			return Components{}, fmt.Errorf("load plugins: %w", err)
		}
	}

	s := handlers.New(handlers.Options{
		Catalog:          catalog,
		FallbackLanguage: cfg.Skill.FallbackLanguage,
		SkillID:          cfg.Skill.SkillID,
		UserAgent:        cfg.Skill.UserAgent,
		LogEnvelopes:     cfg.Skill.LogEnvelopes,
		Store:            store,
		AuditPrivacy:     cfg.Skill.AuditPrivacy,
		Extra:            plugins.Handlers(loadedPlugins),
		Logger:           logger,
	})
	return Components{Skill: s, Catalog: catalog, Plugins: loadedPlugins}, nil
}

// Addr is the address the HTTP server is listening on once started.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Ready reports whether Start finished wiring every component.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

// Start runs the runtime until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	tel.install()
	r.tracerClose = tel.Shutdown

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to open event store: %w", err), r.shutdown())
	}
	r.store = store

	components, err := BuildSkill(r.cfg, store, r.logger)
	if err != nil {
		return errors.Join(err, r.shutdown())
	}

	checks := map[string]httpapi.Check{
		"skill": func() bool { return r.ready.Load() },
	}
	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, components); err != nil {
			return errors.Join(err, r.shutdown())
		}
		checks["bus"] = r.bus.Healthy
		checks["skillbus"] = r.skillbus.Healthy
		checks["discovery"] = r.registry.Healthy
	}

	api := httpapi.New(components.Skill, tel.metricsHandler(), checks, r.logger)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", addr, err), r.shutdown())
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", listener.Addr().String()),
		slog.String("user_agent", components.Skill.UserAgent()),
		slog.Int("plugins", len(components.Plugins)),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return r.shutdown()
}

func (r *Runtime) startBus(ctx context.Context, components Components) error {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.nats = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, components.Skill.UserAgent(), r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client

	r.skillbus = skillbus.NewService(ctx, client, components.Skill, busCfg.QueueGroup, r.logger)
	if err := r.skillbus.Start(); err != nil {
		return fmt.Errorf("failed to subscribe skill: %w", err)
	}

	intents := append([]string(nil), handlers.Intents...)
	for _, p := range components.Plugins {
		intents = append(intents, p.Intents()...)
	}
	caps := discovery.Capabilities(intents, components.Catalog.Languages(), r.cfg.Node.Capabilities)
	registry, err := discovery.NewRegistry(ctx, r.cfg.Node, caps, client, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	r.registry = registry
	r.logger.Info("node announced",
		slog.String("node_id", r.cfg.Node.ID),
		slog.Int("capabilities", len(registry.LocalCapabilities())),
	)
	return nil
}

// shutdown releases whatever Start managed to bring up, in reverse order.
func (r *Runtime) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		r.wg.Wait()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.skillbus != nil {
		r.skillbus.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event store close: %w", err))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		r.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	return err
}
