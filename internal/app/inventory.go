package app

import (
	"fmt"

	"github.com/dokzlo13/lighttools/internal/config"
	"github.com/dokzlo13/lighttools/internal/host"
)

// DeviceFromConfig converts an inventory entry. Plugin types take their class
// from the type; native devices need a valid class.
func DeviceFromConfig(dc config.DeviceConfig) (host.Device, error) {
	dev := host.Device{
		ID:         host.DeviceID(dc.ID),
		Name:       dc.Name,
		Type:       dc.Type,
		OnState:    dc.OnState,
		Brightness: dc.Brightness,
		Props:      dc.Props,
		States:     dc.States,
	}

	if dc.Type != "" {
		class, ok := host.ClassForType(dc.Type)
		if !ok {
			return host.Device{}, fmt.Errorf("device %s: unknown type %q", dc.ID, dc.Type)
		}
		dev.Class = class
		return dev, nil
	}

	class, err := host.ParseClass(dc.Class)
	if err != nil {
		return host.Device{}, fmt.Errorf("device %s: %w", dc.ID, err)
	}
	dev.Class = class
	return dev, nil
}

// LoadInventory registers the configured devices and variables.
func LoadInventory(reg *host.Registry, cfg *config.Config) error {
	for _, vc := range cfg.Variables {
		if err := reg.AddVariable(host.Variable{
			ID:    host.VariableID(vc.ID),
			Name:  vc.Name,
			Value: vc.Value,
		}); err != nil {
			return err
		}
	}
	for _, dc := range cfg.Devices {
		dev, err := DeviceFromConfig(dc)
		if err != nil {
			return err
		}
		if err := reg.AddDevice(dev); err != nil {
			return err
		}
	}
	return nil
}
