// Package app wires the controllers, backends and servers into one process.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/config"
)

// App owns the services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start brings the services up. Cancelling ctx stops the background loops;
// Stop must still be called to restore flashing devices and release resources.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	reg := a.services.Registry
	log.Info().
		Int("devices", len(a.services.Host.Devices())).
		Int("variables", len(a.services.Host.Variables())).
		Int("builtin_actions", reg.Count(actions.OriginBuiltin)).
		Int("script_actions", reg.Count(actions.OriginScript)).
		Msg("lighttools started")
	return nil
}

// Run starts the app, blocks until ctx is done and shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	a.Wait()
	return a.Stop()
}

// Stop cancels the app context and shuts the services down.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait blocks until the app context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearState drops persisted device and variable state so the configured
// inventory is used as is.
func (a *App) ClearState() error {
	if a.services == nil {
		return nil
	}
	return a.services.ClearState()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		log.Warn().Msg("Received shutdown signal")
		stop()
	}()
	return ctx
}
