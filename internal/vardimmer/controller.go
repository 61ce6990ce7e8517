// Package vardimmer implements a dimmer whose level mirrors a numeric variable.
package vardimmer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/level"
	"github.com/dokzlo13/lighttools/internal/reconcile"
)

// Property bag keys of a variable-linked dimmer.
const (
	PropVariableID = "variableId"
	PropScaleMin   = "scaleMin"
	PropScaleMax   = "scaleMax"
)

var ErrNoVariable = errors.New("no linked variable configured")

// FlashTracker reports devices owned by a running flash sequence.
type FlashTracker interface {
	IsFlashing(id host.DeviceID) bool
}

// Controller implements the vardimmer device type.
type Controller struct {
	host    host.Host
	state   *reconcile.State
	flashes FlashTracker
}

// NewController creates a controller. flashes may be nil.
func NewController(h host.Host, state *reconcile.State, flashes FlashTracker) *Controller {
	return &Controller{host: h, state: state, flashes: flashes}
}

func variableID(dev host.Device) (host.VariableID, error) {
	id := strings.TrimSpace(dev.Prop(PropVariableID))
	if id == "" {
		return "", fmt.Errorf("%s: %w", dev.Label(), ErrNoVariable)
	}
	return host.VariableID(id), nil
}

func scaleOf(dev host.Device) level.Scale {
	s, ok := level.ParseScale(dev.Prop(PropScaleMin), dev.Prop(PropScaleMax))
	if !ok && (dev.Prop(PropScaleMin) != "" || dev.Prop(PropScaleMax) != "") {
		log.Warn().
			Str("device", dev.Label()).
			Str("min", dev.Prop(PropScaleMin)).
			Str("max", dev.Prop(PropScaleMax)).
			Msg("Invalid scale, using 0-100")
	}
	return s
}

// Start reads the linked variable, corrects it when invalid or out of range
// and initializes the device level and caches.
func (c *Controller) Start(ctx context.Context, dev host.Device) {
	varID, err := variableID(dev)
	if err != nil {
		log.Warn().Err(err).Msg("Variable dimmer not started")
		return
	}
	v, err := c.host.Variable(varID)
	if err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Msg("Variable dimmer not started")
		return
	}

	scale := scaleOf(dev)
	key := reconcile.LinkKey{Device: dev.ID, Variable: varID}

	conv, ok := scale.ToLevel(v.Value)
	value := v.Value
	switch {
	case !ok:
		value = scale.ToVariable(0)
		conv.Level = 0
		log.Warn().Str("device", dev.Label()).Str("value", v.Value).Str("reset_to", value).Msg("Invalid variable value, resetting to minimum")
	case conv.Clamped:
		value = scale.ToVariable(conv.Level)
		log.Warn().Str("device", dev.Label()).Str("value", v.Value).Str("corrected", value).Msg("Variable value out of range, correcting")
	}

	c.state.Variables.Set(key, value)
	c.state.Brightness.Set(dev.ID, conv.Level)

	if value != v.Value {
		if err := c.host.SetVariable(ctx, varID, value); err != nil {
			log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to correct variable")
		}
	}
	if err := c.show(dev.ID, conv.Level); err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Msg("Failed to initialize variable dimmer")
		return
	}
	log.Info().Str("device", dev.Label()).Str("variable", v.Label()).Int("level", conv.Level).Msg("Variable dimmer initialized")
}

// Stop forgets the device's cached observations.
func (c *Controller) Stop(dev host.Device) {
	c.state.StopDevice(dev.ID)
}

func (c *Controller) show(id host.DeviceID, lvl int) error {
	return c.host.UpdateStates(id,
		host.State(host.StateBrightness, lvl),
		host.State(host.StateOnOff, lvl > 0),
	)
}

// HandleAction implements host.ActionHandler.
func (c *Controller) HandleAction(ctx context.Context, dev host.Device, action host.Action) error {
	var target int
	switch action.Kind {
	case host.ActionTurnOn:
		target = level.Max
	case host.ActionTurnOff:
		target = level.Min
	case host.ActionToggle:
		if dev.OnState {
			target = level.Min
		} else {
			target = level.Max
		}
	case host.ActionSetBrightness:
		target = action.IntValue()
	case host.ActionBrightenBy:
		target = dev.Brightness + action.IntValue()
	case host.ActionDimBy:
		target = dev.Brightness - action.IntValue()
	default:
		return fmt.Errorf("%s on variable dimmer %s: %w", action, dev.Label(), host.ErrUnsupportedAction)
	}
	return c.setLevel(ctx, dev, level.Clamp(target))
}

func (c *Controller) setLevel(ctx context.Context, dev host.Device, lvl int) error {
	varID, err := variableID(dev)
	if err != nil {
		log.Error().Err(err).Msg("Cannot set variable dimmer level")
		return err
	}
	value := scaleOf(dev).ToVariable(lvl)

	// Caches first, so neither the poll loop nor the device_updated handler
	// treats our own writes as external changes.
	c.state.Variables.Set(reconcile.LinkKey{Device: dev.ID, Variable: varID}, value)
	c.state.Brightness.Set(dev.ID, lvl)

	if err := c.host.SetVariable(ctx, varID, value); err != nil {
		return fmt.Errorf("failed to update variable of %s: %w", dev.Label(), err)
	}
	if err := c.show(dev.ID, lvl); err != nil {
		return fmt.Errorf("failed to update %s: %w", dev.Label(), err)
	}
	log.Debug().Str("device", dev.Label()).Int("level", lvl).Str("value", value).Msg("Variable dimmer set")
	return nil
}

// Reconcile is the poll step: a changed variable is converted and pushed to
// the device; invalid or out-of-range values are rewritten once.
func (c *Controller) Reconcile(ctx context.Context) error {
	for _, dev := range c.host.DevicesOfType(host.TypeVariableDimmer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.reconcileDevice(ctx, dev); err != nil {
			log.Error().Err(err).Str("device", dev.Label()).Msg("Error checking variable")
		}
	}
	return nil
}

func (c *Controller) reconcileDevice(ctx context.Context, dev host.Device) error {
	varID, err := variableID(dev)
	if err != nil {
		return nil
	}
	v, err := c.host.Variable(varID)
	if err != nil {
		return err
	}

	key := reconcile.LinkKey{Device: dev.ID, Variable: varID}
	if !c.state.Variables.Changed(key, v.Value) {
		return nil
	}

	scale := scaleOf(dev)
	conv, ok := scale.ToLevel(v.Value)
	switch {
	case !ok:
		corrected := scale.ToVariable(dev.Brightness)
		log.Warn().Str("device", dev.Label()).Str("value", v.Value).Str("reset_to", corrected).Msg("Invalid variable value, resetting")
		c.state.Variables.Set(key, corrected)
		return c.host.SetVariable(ctx, varID, corrected)

	case conv.Clamped:
		corrected := scale.ToVariable(conv.Level)
		log.Warn().Str("device", dev.Label()).Str("value", v.Value).Str("corrected", corrected).Msg("Variable value out of range, correcting")
		c.state.Variables.Set(key, corrected)
		c.state.Brightness.Set(dev.ID, conv.Level)
		if err := c.host.SetVariable(ctx, varID, corrected); err != nil {
			return err
		}
		return c.show(dev.ID, conv.Level)

	default:
		c.state.Variables.Set(key, v.Value)
		c.state.Brightness.Set(dev.ID, conv.Level)
		return c.show(dev.ID, conv.Level)
	}
}

// DeviceUpdated pushes brightness changes made outside this controller back
// into the linked variable. Devices that are flashing are ignored, and so are
// events whose brightness no longer matches the device: bus workers run
// events out of order, so a flash step can arrive after the restore.
func (c *Controller) DeviceUpdated(e eventbus.Event) {
	_, dev, ok := host.DeviceChange(e)
	if !ok || dev.Type != host.TypeVariableDimmer {
		return
	}
	if c.flashes != nil && c.flashes.IsFlashing(dev.ID) {
		return
	}
	live, err := c.host.Device(dev.ID)
	if err != nil || live.Brightness != dev.Brightness {
		log.Debug().Str("device", dev.Label()).Int("event", dev.Brightness).Msg("Ignoring stale device update")
		return
	}
	if !c.state.Brightness.Observe(dev.ID, dev.Brightness) {
		return
	}

	varID, err := variableID(dev)
	if err != nil {
		return
	}
	value := scaleOf(dev).ToVariable(dev.Brightness)
	c.state.Variables.Set(reconcile.LinkKey{Device: dev.ID, Variable: varID}, value)
	if err := c.host.SetVariable(context.Background(), varID, value); err != nil {
		log.Error().Err(err).Str("device", dev.Label()).Msg("Error updating variable")
	}
}
