// Package hue exposes the lights of a Philips Hue bridge as dimmer devices.
package hue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/changecache"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/level"
)

// PropLight holds the bridge's light id.
const PropLight = "light"

const maxBri = 254

// Bridge is the part of *huego.Bridge the driver uses.
type Bridge interface {
	GetLightsContext(ctx context.Context) ([]huego.Light, error)
	SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error)
}

// Inventory is the host plus device registration.
type Inventory interface {
	host.Host
	AddDevice(d host.Device) error
}

type lightState struct {
	on        bool
	level     int
	reachable bool
}

// Driver polls the bridge and handles commands for TypeHueLight devices.
type Driver struct {
	bridge Bridge
	host   Inventory
	seen   *changecache.Cache[host.DeviceID, lightState]
}

// NewBridge creates a huego bridge client.
func NewBridge(address, token string) *huego.Bridge {
	return huego.New(address, token)
}

// NewDriver creates a driver. Register it with host.Registry.Handle for
// host.TypeHueLight.
func NewDriver(bridge Bridge, inv Inventory) *Driver {
	return &Driver{
		bridge: bridge,
		host:   inv,
		seen:   changecache.New[host.DeviceID, lightState](),
	}
}

// DeviceID returns the device id of a bridge light.
func DeviceID(lightID int) host.DeviceID {
	return host.DeviceID(fmt.Sprintf("hue-%d", lightID))
}

// BriToLevel maps Hue brightness (1..254) to 0..100.
func BriToLevel(bri uint8) int {
	return level.Clamp(int(math.Round(float64(bri) * 100 / maxBri)))
}

// LevelToBri maps 1..100 to Hue brightness, never below 1.
func LevelToBri(lvl int) uint8 {
	bri := int(math.Round(float64(level.Clamp(lvl)) * maxBri / 100))
	if bri < 1 {
		bri = 1
	}
	return uint8(bri)
}

func observe(l huego.Light) lightState {
	if l.State == nil {
		return lightState{}
	}
	s := lightState{on: l.State.On, reachable: l.State.Reachable}
	if s.on {
		s.level = BriToLevel(l.State.Bri)
	}
	return s
}

// Sync reads all lights, registers new ones and pushes changed state into
// the host. Lights the bridge stops reporting are marked unreachable and
// forgotten, so they are pushed in full if they come back.
func (d *Driver) Sync(ctx context.Context) error {
	lights, err := d.bridge.GetLightsContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get lights: %w", err)
	}

	present := make(map[host.DeviceID]bool, len(lights))
	for _, l := range lights {
		id := DeviceID(l.ID)
		st := observe(l)
		present[id] = true

		if _, err := d.host.Device(id); err != nil {
			dev := host.Device{
				ID:         id,
				Name:       l.Name,
				Type:       host.TypeHueLight,
				OnState:    st.on,
				Brightness: st.level,
				Props:      map[string]string{PropLight: strconv.Itoa(l.ID)},
				States:     map[string]any{"reachable": st.reachable},
			}
			if err := d.host.AddDevice(dev); err != nil {
				log.Warn().Err(err).Str("device", string(id)).Msg("Failed to register Hue light")
				continue
			}
			d.seen.Set(id, st)
			log.Info().Str("device", string(id)).Str("name", l.Name).Msg("Registered Hue light")
			continue
		}

		if !d.seen.Observe(id, st) {
			continue
		}
		if err := d.host.UpdateStates(id,
			host.State(host.StateBrightness, st.level),
			host.State(host.StateOnOff, st.on),
			host.State("reachable", st.reachable),
		); err != nil {
			log.Warn().Err(err).Str("device", string(id)).Msg("Failed to update Hue light state")
		}
	}

	for _, dev := range d.host.DevicesOfType(host.TypeHueLight) {
		if present[dev.ID] {
			continue
		}
		if _, ok := d.seen.Get(dev.ID); !ok {
			continue
		}
		d.Forget(dev.ID)
		log.Warn().Str("device", dev.Label()).Msg("Hue light no longer reported by bridge")
		if err := d.host.UpdateStates(dev.ID, host.State("reachable", false)); err != nil {
			log.Warn().Err(err).Str("device", dev.Label()).Msg("Failed to mark Hue light unreachable")
		}
	}
	return nil
}

// Run polls the bridge until ctx is cancelled.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("Hue sync failed")
			}
		}
	}
}

// HandleAction writes the commanded level to the light and mirrors it into
// the visible state.
func (d *Driver) HandleAction(ctx context.Context, dev host.Device, action host.Action) error {
	lightID, err := strconv.Atoi(dev.Prop(PropLight))
	if err != nil {
		return fmt.Errorf("hue light %s has no valid %q prop", dev.Label(), PropLight)
	}
	target, err := target(dev, action)
	if err != nil {
		return err
	}

	state := huego.State{On: target > 0}
	if target > 0 {
		state.Bri = LevelToBri(target)
	}
	if _, err := d.bridge.SetLightStateContext(ctx, lightID, state); err != nil {
		return fmt.Errorf("failed to set hue light %d: %w", lightID, err)
	}

	prev, _ := d.seen.Get(dev.ID)
	d.seen.Set(dev.ID, lightState{on: target > 0, level: target, reachable: prev.reachable})
	return d.host.UpdateStates(dev.ID,
		host.State(host.StateBrightness, target),
		host.State(host.StateOnOff, target > 0),
	)
}

// Forget drops cached state for a light the bridge no longer reports.
func (d *Driver) Forget(id host.DeviceID) {
	d.seen.Forget(id)
}

func target(dev host.Device, action host.Action) (int, error) {
	switch action.Kind {
	case host.ActionTurnOn:
		return level.Max, nil
	case host.ActionTurnOff:
		return level.Min, nil
	case host.ActionToggle:
		if dev.OnState {
			return level.Min, nil
		}
		return level.Max, nil
	case host.ActionSetBrightness:
		return level.Clamp(action.IntValue()), nil
	case host.ActionBrightenBy:
		return level.Clamp(dev.Brightness + action.IntValue()), nil
	case host.ActionDimBy:
		return level.Clamp(dev.Brightness - action.IntValue()), nil
	}
	return 0, fmt.Errorf("%s on hue light %s: %w", action, dev.Label(), host.ErrUnsupportedAction)
}
