package app

import (
	"context"

	"github.com/dokzlo13/lighttools/internal/config"
	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/telemetry"
)

// TelemetryService records device and variable history in InfluxDB.
type TelemetryService struct {
	cfg    *config.Config
	Client *telemetry.Client
}

// NewTelemetryService creates the service, or returns nil when InfluxDB is disabled.
func NewTelemetryService(cfg *config.Config) *TelemetryService {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	return &TelemetryService{cfg: cfg}
}

// Connect creates the client and pings the server.
func (s *TelemetryService) Connect(ctx context.Context) error {
	client, err := telemetry.Connect(s.cfg.InfluxDB)
	if err != nil {
		return err
	}
	s.Client = client
	return nil
}

// Start subscribes the recorder to the bus.
func (s *TelemetryService) Start(bus *eventbus.Bus) {
	telemetry.NewRecorder(s.Client.Writer()).Subscribe(bus)
}

// HealthCheck pings the server.
func (s *TelemetryService) HealthCheck(ctx context.Context) error {
	if s.Client == nil {
		return telemetry.ErrNotConnected
	}
	return s.Client.HealthCheck(ctx)
}

// Close flushes and closes the client.
func (s *TelemetryService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
