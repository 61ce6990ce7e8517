package app

import (
	"context"

	"github.com/dokzlo13/lighttools/internal/config"
	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/mqtt"
)

// MQTTService mirrors the host onto an MQTT broker.
type MQTTService struct {
	cfg    *config.Config
	host   *host.Registry
	Client *mqtt.Client
	Bridge *mqtt.Bridge
}

// NewMQTTService creates the service, or returns nil when MQTT is disabled.
func NewMQTTService(cfg *config.Config, reg *host.Registry) *MQTTService {
	if !cfg.MQTT.Enabled {
		return nil
	}
	return &MQTTService{cfg: cfg, host: reg}
}

// Connect dials the broker.
func (s *MQTTService) Connect(ctx context.Context) error {
	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		return err
	}
	s.Client = client
	s.Bridge = mqtt.NewBridge(client, client.Topics(), client.QoS(), s.host)
	return nil
}

// Start subscribes to commands and starts publishing state.
func (s *MQTTService) Start(ctx context.Context, bus *eventbus.Bus) error {
	return s.Bridge.Start(ctx, bus, s.host.Variables())
}

// HealthCheck reports the broker connection state.
func (s *MQTTService) HealthCheck(ctx context.Context) error {
	if s.Client == nil {
		return mqtt.ErrNotConnected
	}
	return s.Client.HealthCheck(ctx)
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
