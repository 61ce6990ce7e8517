package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/config"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/hue"
)

// HueService exposes the lights of a Hue bridge as devices.
type HueService struct {
	cfg    *config.Config
	Driver *hue.Driver
}

// NewHueService creates the service, or returns nil when Hue is disabled.
func NewHueService(cfg *config.Config, reg *host.Registry) *HueService {
	if !cfg.Hue.Enabled {
		return nil
	}
	bridge := hue.NewBridge(cfg.Hue.Bridge, cfg.Hue.Token)
	driver := hue.NewDriver(bridge, reg)
	reg.Handle(host.TypeHueLight, driver)
	return &HueService{cfg: cfg, Driver: driver}
}

// Connect reads the bridge's lights once, registering them as devices.
func (s *HueService) Connect(ctx context.Context) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.Hue.Timeout.Duration())
	defer cancel()
	if err := s.Driver.Sync(syncCtx); err != nil {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}
	log.Info().Str("bridge", s.cfg.Hue.Bridge).Msg("Connected to Hue bridge")
	return nil
}

// Start polls the bridge in the background.
func (s *HueService) Start(ctx context.Context) {
	go s.Driver.Run(ctx, s.cfg.Hue.PollInterval.Duration())
}
