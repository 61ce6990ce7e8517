// Package relaypair emulates a four-step dimmer or fan with two relays.
package relaypair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/level"
	"github.com/dokzlo13/lighttools/internal/reconcile"
)

// Property bag keys of a relay-pair device.
const (
	PropRelay1 = "relay1Device"
	PropRelay2 = "relay2Device"
)

// DefaultApplyDelay is how long relay writes trail the visible state change.
const DefaultApplyDelay = time.Second

var ErrNotConfigured = errors.New("relay pair is not fully configured")

// FlashTracker reports devices owned by a running flash sequence.
type FlashTracker interface {
	IsFlashing(id host.DeviceID) bool
}

type pendingApply struct {
	timer *time.Timer
	gen   uint64
}

// Controller implements the relay2dimmer and relay2fan device types.
type Controller struct {
	host    host.Host
	state   *reconcile.State
	delay   time.Duration
	flashes FlashTracker

	mu      sync.Mutex
	pending map[host.DeviceID]*pendingApply
	gen     uint64
}

// NewController creates a relay-pair controller. flashes may be nil.
func NewController(h host.Host, state *reconcile.State, delay time.Duration, flashes FlashTracker) *Controller {
	if delay < 0 {
		delay = DefaultApplyDelay
	}
	return &Controller{
		host:    h,
		state:   state,
		delay:   delay,
		flashes: flashes,
		pending: make(map[host.DeviceID]*pendingApply),
	}
}

func relayIDs(dev host.Device) (host.DeviceID, host.DeviceID, error) {
	r1 := strings.TrimSpace(dev.Prop(PropRelay1))
	r2 := strings.TrimSpace(dev.Prop(PropRelay2))
	if r1 == "" || r2 == "" {
		return "", "", fmt.Errorf("%s: %w", dev.Label(), ErrNotConfigured)
	}
	return host.DeviceID(r1), host.DeviceID(r2), nil
}

func (c *Controller) readPair(dev host.Device) (level.RelayPair, error) {
	r1, r2, err := relayIDs(dev)
	if err != nil {
		return level.RelayPair{}, err
	}
	d1, err := c.host.Device(r1)
	if err != nil {
		return level.RelayPair{}, fmt.Errorf("relay 1 of %s: %w", dev.Label(), err)
	}
	d2, err := c.host.Device(r2)
	if err != nil {
		return level.RelayPair{}, fmt.Errorf("relay 2 of %s: %w", dev.Label(), err)
	}
	return level.RelayPair{Relay1: d1.OnState, Relay2: d2.OnState}, nil
}

// Start reads the relays and initializes the visible level.
func (c *Controller) Start(ctx context.Context, dev host.Device) {
	pair, err := c.readPair(dev)
	if err != nil {
		log.Warn().Err(err).Str("device", dev.Label()).Msg("Relay pair device not started")
		return
	}
	c.state.Relays.Set(dev.ID, pair)

	if err := c.show(dev, pair.Level()); err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to initialize relay pair device")
		return
	}
	log.Info().Str("device", dev.Label()).Str("type", dev.Type).Int("level", pair.Level()).Msg("Relay pair device initialized")
}

// Stop drops the device's pending write and cached relay state.
func (c *Controller) Stop(dev host.Device) {
	c.cancel(dev)
	c.state.StopDevice(dev.ID)
}

func (c *Controller) cancel(dev host.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[dev.ID]; ok {
		p.timer.Stop()
		delete(c.pending, dev.ID)
	}
}

// Close cancels every pending relay write.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// show updates the visible state for a level.
func (c *Controller) show(dev host.Device, lvl int) error {
	if dev.Type == host.TypeRelayFan {
		idx := level.SpeedIndex(lvl)
		return c.host.UpdateStates(dev.ID,
			host.State(host.StateSpeedIndex, idx),
			host.State(host.StateSpeedIndex+".ui", level.SpeedName(idx)),
			host.State(host.StateSpeedLevel, lvl),
			host.State(host.StateOnOff, lvl > 0),
		)
	}
	return c.host.UpdateStates(dev.ID,
		host.State(host.StateBrightness, lvl),
		host.State(host.StateOnOff, lvl > 0),
	)
}

// HandleAction implements host.ActionHandler for both device types.
func (c *Controller) HandleAction(ctx context.Context, dev host.Device, action host.Action) error {
	if _, _, err := relayIDs(dev); err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Str("action", action.String()).Msg("Cannot handle action")
		return err
	}

	var (
		target int
		err    error
	)
	switch dev.Type {
	case host.TypeRelayDimmer:
		target, err = dimmerTarget(dev, action)
	case host.TypeRelayFan:
		target, err = fanTarget(dev, action)
	default:
		err = fmt.Errorf("device type %q: %w", dev.Type, host.ErrUnsupportedAction)
	}
	if err != nil {
		return err
	}

	pair := level.PairForLevel(target)
	lvl := pair.Level()

	if dev.Type == host.TypeRelayFan {
		log.Info().Str("device", dev.Label()).Str("speed", level.SpeedName(level.SpeedIndex(lvl))).Msg("Relay fan set")
	} else {
		log.Info().Str("device", dev.Label()).Int("level", lvl).Msg("Relay dimmer set")
	}

	// The visible state changes now; the relays follow after the delay.
	if err := c.show(dev, lvl); err != nil {
		return err
	}
	// Flash steps are shorter than the delay and would supersede each
	// other before any relay moved, so they are written at once.
	if c.flashes != nil && c.flashes.IsFlashing(dev.ID) {
		c.cancel(dev)
		r1, r2, _ := relayIDs(dev)
		c.applyPair(dev, r1, r2, pair)
		return nil
	}
	c.schedule(dev, pair)
	return nil
}

func dimmerTarget(dev host.Device, action host.Action) (int, error) {
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
	return 0, fmt.Errorf("%s on relay dimmer %s: %w", action, dev.Label(), host.ErrUnsupportedAction)
}

func fanTarget(dev host.Device, action host.Action) (int, error) {
	idx := -1
	switch action.Kind {
	case host.ActionTurnOn:
		idx = level.MaxSpeedIndex
	case host.ActionTurnOff:
		idx = 0
	case host.ActionToggle:
		if dev.SpeedIndex > 0 {
			idx = 0
		} else {
			idx = level.MaxSpeedIndex
		}
	case host.ActionSetSpeedIndex:
		idx = level.ClampSpeedIndex(action.IntValue())
	case host.ActionIncreaseSpeedIndex:
		idx = level.ClampSpeedIndex(dev.SpeedIndex + 1)
	case host.ActionDecreaseSpeedIndex:
		idx = level.ClampSpeedIndex(dev.SpeedIndex - 1)
	case host.ActionSetSpeedLevel:
		return level.Quantize(level.Clamp(action.IntValue())), nil
	default:
		return 0, fmt.Errorf("%s on relay fan %s: %w", action, dev.Label(), host.ErrUnsupportedAction)
	}
	return level.SpeedLevel(idx), nil
}

// schedule replaces any pending relay write for the device.
func (c *Controller) schedule(dev host.Device, pair level.RelayPair) {
	r1, r2, _ := relayIDs(dev)

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[dev.ID]; ok {
		if p.timer.Stop() {
			log.Debug().Str("device", dev.Label()).Msg("Superseded pending relay write")
		}
	}

	c.gen++
	gen := c.gen
	p := &pendingApply{gen: gen}
	p.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		cur, ok := c.pending[dev.ID]
		if !ok || cur.gen != gen {
			c.mu.Unlock()
			return
		}
		delete(c.pending, dev.ID)
		c.mu.Unlock()

		c.applyPair(dev, r1, r2, pair)
	})
	c.pending[dev.ID] = p
}

// applyPair writes both relays. A failed write is logged and the other relay
// is still written.
func (c *Controller) applyPair(dev host.Device, r1, r2 host.DeviceID, pair level.RelayPair) {
	ctx := context.Background()
	for _, w := range []struct {
		id host.DeviceID
		on bool
	}{{r1, pair.Relay1}, {r2, pair.Relay2}} {
		var err error
		if w.on {
			err = c.host.TurnOn(ctx, w.id)
		} else {
			err = c.host.TurnOff(ctx, w.id)
		}
		if err != nil {
			log.Error().Err(err).Str("device", dev.Label()).Str("relay", string(w.id)).Bool("on", w.on).Msg("Failed to apply relay state")
		}
	}
}

// HasPending reports whether a relay write is waiting for the device.
func (c *Controller) HasPending(id host.DeviceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Reconcile is the poll step: any relay change since the last observation is
// reflected in the composite device.
func (c *Controller) Reconcile(ctx context.Context) error {
	for _, t := range []string{host.TypeRelayDimmer, host.TypeRelayFan} {
		for _, dev := range c.host.DevicesOfType(t) {
			if err := ctx.Err(); err != nil {
				return err
			}
			pair, err := c.readPair(dev)
			if err != nil {
				if !errors.Is(err, ErrNotConfigured) {
					log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to monitor relay pair device")
				}
				continue
			}
			if c.state.Relays.Observe(dev.ID, pair) {
				c.relayChanged(dev, pair)
			}
		}
	}
	return nil
}

// RelayUpdated reacts to device_updated events of relays that belong to a
// composite device.
func (c *Controller) RelayUpdated(e eventbus.Event) {
	old, updated, ok := host.DeviceChange(e)
	if !ok || updated.Class != host.ClassRelay || updated.Type != "" {
		return
	}
	if old.OnState == updated.OnState {
		return
	}
	log.Debug().Str("relay", updated.Label()).Bool("on", updated.OnState).Msg("Relay state changed")

	for _, t := range []string{host.TypeRelayDimmer, host.TypeRelayFan} {
		for _, dev := range c.host.DevicesOfType(t) {
			r1, r2, err := relayIDs(dev)
			if err != nil || (r1 != updated.ID && r2 != updated.ID) {
				continue
			}
			pair, err := c.readPair(dev)
			if err != nil {
				log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to update relay pair device")
				continue
			}
			c.state.Relays.Set(dev.ID, pair)
			c.relayChanged(dev, pair)
		}
	}
}

func (c *Controller) relayChanged(dev host.Device, pair level.RelayPair) {
	lvl := pair.Level()
	if err := c.show(dev, lvl); err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to update relay pair device")
		return
	}
	if dev.Type == host.TypeRelayFan {
		log.Info().Str("device", dev.Label()).Str("speed", level.SpeedName(level.SpeedIndex(lvl))).Msg("Relay change detected, fan updated")
	} else {
		log.Info().Str("device", dev.Label()).Int("level", lvl).Msg("Relay change detected, dimmer updated")
	}
}
