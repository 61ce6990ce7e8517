package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/api"
	"github.com/dokzlo13/lighttools/internal/config"
	"github.com/dokzlo13/lighttools/internal/db"
	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/ledger"
	luart "github.com/dokzlo13/lighttools/internal/lua"
	"github.com/dokzlo13/lighttools/internal/reconcile"
	"github.com/dokzlo13/lighttools/internal/relaypair"
	"github.com/dokzlo13/lighttools/internal/scene"
	"github.com/dokzlo13/lighttools/internal/storage"
	"github.com/dokzlo13/lighttools/internal/vardimmer"
)

// DeviceController drives one plugin device type.
type DeviceController interface {
	host.ActionHandler
	Start(ctx context.Context, dev host.Device)
	Stop(dev host.Device)
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB        *db.DB
	Ledger    *ledger.Ledger
	Store     *storage.Store
	Persister *host.StorePersister
	Bus       *eventbus.Bus
	Host      *host.Registry

	// Device behaviors
	State        *reconcile.State
	Orchestrator *reconcile.Orchestrator
	Flash        *flash.Sequencer
	VarDimmers   *vardimmer.Controller
	RelayPairs   *relaypair.Controller
	Scenes       *scene.Controller

	// Action system
	Registry *actions.Registry
	Invoker  *actions.Invoker

	// High-level services, nil when disabled
	Lua       *LuaService
	Hue       *HueService
	MQTT      *MQTTService
	Telemetry *TelemetryService
	Health    *HealthService
	API       *APIService

	controllers map[string]DeviceController
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Persister = host.NewStorePersister(s.Store)

	// Host registry with change events
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Host = host.NewRegistry(host.WithBus(s.Bus), host.WithPersister(s.Persister))
	if err := LoadInventory(s.Host, cfg); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}

	// Device behaviors
	s.State = reconcile.NewState()
	s.Orchestrator = reconcile.NewOrchestrator(cfg.Poll.Interval.Duration())
	s.Flash = flash.New(s.Host, s.Ledger, s.Bus)
	s.VarDimmers = vardimmer.NewController(s.Host, s.State, s.Flash)
	s.RelayPairs = relaypair.NewController(s.Host, s.State, cfg.Relay.ApplyDelay.Duration(), s.Flash)

	var limiter *rate.Limiter
	if cfg.Scene.ApplyRateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Scene.ApplyRateRPS), 1)
	}
	groups := &lazyGroups{}
	s.Scenes = scene.NewController(s.Host, scene.NewEngine(limiter), groups, s.Ledger, cfg.Scene.RecheckDelay.Duration())

	s.controllers = map[string]DeviceController{
		host.TypeVariableDimmer: s.VarDimmers,
		host.TypeRelayDimmer:    s.RelayPairs,
		host.TypeRelayFan:       s.RelayPairs,
		host.TypeScene:          s.Scenes,
	}
	for t, c := range s.controllers {
		s.Host.Handle(t, c)
	}

	s.Orchestrator.Register(reconcile.Func("vardimmer", s.VarDimmers.Reconcile))
	s.Orchestrator.Register(reconcile.Func("relaypair", s.RelayPairs.Reconcile))
	s.Orchestrator.Register(reconcile.Func("scene", s.Scenes.Reconcile))

	// Action system
	flashDefaults := flash.Defaults{
		Count:    cfg.Flash.Count,
		Duration: cfg.Flash.Duration.Duration(),
		Gap:      cfg.Flash.Gap.Duration(),
	}
	s.Registry = actions.NewRegistry()
	if err := actions.RegisterBuiltins(s.Registry, flashDefaults); err != nil {
		s.Close()
		return nil, err
	}
	ctxFactory := func(ctx context.Context, source string, run func(string, map[string]any) error) *actions.Context {
		return actions.NewContext(ctx, source, s.Host, s.Flash, run)
	}
	s.Invoker = actions.NewInvoker(s.Registry, s.Ledger, ctxFactory)

	s.Lua = NewLuaService(cfg, luart.RuntimeDeps{
		Registry:      s.Registry,
		Invoker:       s.Invoker,
		Host:          s.Host,
		Flash:         s.Flash,
		FlashDefaults: flashDefaults,
		Scenes:        s.Scenes,
	})
	groups.lua = s.Lua

	// External backends
	s.Hue = NewHueService(cfg, s.Host)
	s.MQTT = NewMQTTService(cfg, s.Host)
	s.Telemetry = NewTelemetryService(cfg)

	s.Health = NewHealthService(cfg)
	s.API = NewAPIService(cfg, api.Deps{
		Host:          s.Host,
		Flash:         s.Flash,
		FlashDefaults: flashDefaults,
		Scenes:        s.Scenes,
		Actions:       s.Lua,
		Catalog:       s.Registry,
	})

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Overlay persisted state on the configured inventory
	if err := s.Host.Restore(); err != nil {
		return err
	}

	if err := s.connectBackends(ctx); err != nil {
		return err
	}

	// Load Lua script before starting worker
	if err := s.Lua.LoadScript(); err != nil {
		return err
	}

	s.startDevices(ctx)

	s.Bus.Subscribe(eventbus.EventTypeDeviceUpdated, s.VarDimmers.DeviceUpdated)
	s.Bus.Subscribe(eventbus.EventTypeDeviceUpdated, s.RelayPairs.RelayUpdated)

	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx, s.Bus); err != nil {
			return err
		}
		s.Health.AddCheck("mqtt", s.MQTT.HealthCheck)
	}
	if s.Telemetry != nil {
		s.Telemetry.Start(s.Bus)
		s.Health.AddCheck("influxdb", s.Telemetry.HealthCheck)
	}
	if s.Hue != nil {
		s.Hue.Start(ctx)
	}

	// Start all background services
	s.Lua.Start(ctx)
	go s.Orchestrator.Run(ctx)
	go s.runLedgerCleanup(ctx)
	s.Health.Start(ctx)
	s.API.Start(ctx)

	return nil
}

// connectBackends connects the enabled external backends concurrently.
func (s *Services) connectBackends(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.Hue != nil {
		g.Go(func() error { return s.Hue.Connect(gctx) })
	}
	if s.MQTT != nil {
		g.Go(func() error { return s.MQTT.Connect(gctx) })
	}
	if s.Telemetry != nil {
		g.Go(func() error { return s.Telemetry.Connect(gctx) })
	}
	return g.Wait()
}

// startDevices initializes every plugin device through its controller.
func (s *Services) startDevices(ctx context.Context) {
	started := 0
	for _, dev := range s.Host.Devices() {
		c, ok := s.controllers[dev.Type]
		if !ok {
			continue
		}
		c.Start(ctx, dev)
		started++
	}
	log.Info().Int("devices", started).Msg("Plugin devices started")
}

func (s *Services) stopDevices() {
	for _, dev := range s.Host.Devices() {
		if c, ok := s.controllers[dev.Type]; ok {
			c.Stop(dev)
		}
	}
}

func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Ledger cleanup finished")
			}
		}
	}
}

// ClearState drops all persisted device and variable state.
func (s *Services) ClearState() error {
	return s.Persister.Clear()
}

// Stop gracefully stops all services. Running flashes are cancelled and
// their devices restored before the backends go away.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if err := s.Flash.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Flash jobs did not finish restoring before timeout")
	}
	s.RelayPairs.Close()
	s.stopDevices()
	s.Bus.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Telemetry != nil {
		s.Telemetry.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
