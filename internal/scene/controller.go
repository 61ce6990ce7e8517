package scene

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/ledger"
)

// Property bag keys of a scene device.
const (
	PropSavedStates    = "savedStates"
	PropSceneDevices   = "sceneDevices"
	PropSceneVariables = "sceneVariables"
	PropOnActionGroup  = "onActionGroup"
	PropOffActionGroup = "offActionGroup"
)

// DefaultRecheckDelay is how long after TurnOff the poll loop leaves a scene
// alone before checking whether it matches again.
const DefaultRecheckDelay = 10 * time.Second

// ActionGroupRunner executes a named action group.
type ActionGroupRunner interface {
	RunActionGroup(ctx context.Context, name string) error
}

// Recorder appends audit entries.
type Recorder interface {
	Append(eventType ledger.EventType, subject string, payload map[string]any) error
}

// Controller implements the scene device type.
type Controller struct {
	host         host.Host
	engine       *Engine
	groups       ActionGroupRunner
	recorder     Recorder
	recheckDelay time.Duration
	now          func() time.Time

	mu       sync.Mutex
	rechecks map[host.DeviceID]time.Time
}

// NewController creates a scene controller. groups and recorder may be nil.
func NewController(h host.Host, engine *Engine, groups ActionGroupRunner, recorder Recorder, recheckDelay time.Duration) *Controller {
	if recheckDelay <= 0 {
		recheckDelay = DefaultRecheckDelay
	}
	return &Controller{
		host:         h,
		engine:       engine,
		groups:       groups,
		recorder:     recorder,
		recheckDelay: recheckDelay,
		now:          time.Now,
		rechecks:     make(map[host.DeviceID]time.Time),
	}
}

// Start sets the scene's on-state from whether the live state matches.
func (c *Controller) Start(ctx context.Context, dev host.Device) {
	matches := c.engine.Matches(dev.Label(), dev.Prop(PropSavedStates), c.host)
	if err := c.host.UpdateStates(dev.ID, host.State(host.StateOnOff, matches)); err != nil {
		log.Error().Err(err).Str("scene", dev.Label()).Msg("Failed to initialize scene")
		return
	}
	log.Info().Str("scene", dev.Label()).Str("state", onOff(matches)).Msg("Scene initialized")
}

// Stop drops any pending recheck for the scene.
func (c *Controller) Stop(dev host.Device) {
	c.mu.Lock()
	delete(c.rechecks, dev.ID)
	c.mu.Unlock()
}

// HandleAction implements host.ActionHandler.
func (c *Controller) HandleAction(ctx context.Context, dev host.Device, action host.Action) error {
	switch action.Kind {
	case host.ActionTurnOn:
		return c.turnOn(ctx, dev)
	case host.ActionTurnOff:
		return c.turnOff(ctx, dev)
	case host.ActionToggle:
		if dev.OnState {
			return c.turnOff(ctx, dev)
		}
		return c.turnOn(ctx, dev)
	}
	return fmt.Errorf("%s on scene %s: %w", action, dev.Label(), host.ErrUnsupportedAction)
}

func (c *Controller) turnOn(ctx context.Context, dev host.Device) error {
	snap, err := Parse(dev.Prop(PropSavedStates))
	if err != nil {
		log.Warn().Err(err).Str("scene", dev.Label()).Msg("Scene has no usable saved state")
	} else {
		res := c.engine.Apply(ctx, snap, c.host)
		log.Info().
			Str("scene", dev.Label()).
			Int("applied", res.Applied).
			Int("failed", res.Failed).
			Msg("Scene applied")
	}

	c.runGroup(ctx, dev, dev.Prop(PropOnActionGroup))

	c.mu.Lock()
	delete(c.rechecks, dev.ID)
	c.mu.Unlock()

	c.record(ledger.EventSceneActivated, dev)
	return c.host.UpdateStates(dev.ID, host.State(host.StateOnOff, true))
}

func (c *Controller) turnOff(ctx context.Context, dev host.Device) error {
	c.runGroup(ctx, dev, dev.Prop(PropOffActionGroup))

	c.mu.Lock()
	c.rechecks[dev.ID] = c.now().Add(c.recheckDelay)
	c.mu.Unlock()

	c.record(ledger.EventSceneDeactivated, dev)
	log.Info().Str("scene", dev.Label()).Dur("recheck_in", c.recheckDelay).Msg("Scene turned off")
	return c.host.UpdateStates(dev.ID, host.State(host.StateOnOff, false))
}

func (c *Controller) runGroup(ctx context.Context, dev host.Device, name string) {
	name = strings.TrimSpace(name)
	if name == "" || name == "none" || c.groups == nil {
		return
	}
	if err := c.groups.RunActionGroup(ctx, name); err != nil {
		log.Error().Err(err).Str("scene", dev.Label()).Str("action_group", name).Msg("Failed to execute action group")
	}
}

// SaveState captures the scene's selected devices and variables and stores
// the snapshot in its property bag.
func (c *Controller) SaveState(id host.DeviceID) (Snapshot, error) {
	dev, err := c.host.Device(id)
	if err != nil {
		return nil, err
	}

	devices := make([]host.DeviceID, 0)
	for _, s := range host.SplitIDs(dev.Prop(PropSceneDevices)) {
		devices = append(devices, host.DeviceID(s))
	}
	variables := make([]host.VariableID, 0)
	for _, s := range host.SplitIDs(dev.Prop(PropSceneVariables)) {
		variables = append(variables, host.VariableID(s))
	}

	snap, err := c.engine.Save(c.host, devices, variables)
	if err != nil {
		log.Warn().Err(err).Str("scene", dev.Label()).Msg("No state saved")
		return nil, err
	}
	encoded, err := snap.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.host.SetProp(id, PropSavedStates, encoded); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	log.Info().Str("scene", dev.Label()).Int("items", len(snap)).Msg("Scene state saved")
	c.recordPayload(ledger.EventSceneSaved, dev, map[string]any{"items": len(snap)})
	return snap, nil
}

// CompareState compares the scene's saved snapshot with live state and logs
// every entry.
func (c *Controller) CompareState(id host.DeviceID) (Report, error) {
	dev, err := c.host.Device(id)
	if err != nil {
		return Report{}, err
	}
	snap, err := Parse(dev.Prop(PropSavedStates))
	if err != nil {
		log.Warn().Err(err).Str("scene", dev.Label()).Msg("No saved state to compare against")
		return Report{}, err
	}

	report := c.engine.Compare(snap, c.host)
	for _, it := range report.Items {
		ev := log.Info().Str("scene", dev.Label()).Str("entry", it.Name)
		switch {
		case it.Error != "":
			ev.Str("error", it.Error).Msg("Entry missing")
		case it.Matches:
			ev.Msg("Entry matches")
		default:
			ev.Strs("differences", it.Differences).Msg("Entry differs")
		}
	}
	log.Info().Str("scene", dev.Label()).Bool("matches", report.Matches()).Msg("Scene comparison finished")
	return report, nil
}

// Reconcile is the poll step: it keeps every scene's on-state in line with
// whether its snapshot matches, honouring pending rechecks.
func (c *Controller) Reconcile(ctx context.Context) error {
	for _, dev := range c.host.DevicesOfType(host.TypeScene) {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.reconcileScene(dev)
	}
	return nil
}

func (c *Controller) reconcileScene(dev host.Device) {
	now := c.now()

	c.mu.Lock()
	due, pending := c.rechecks[dev.ID]
	if pending && !now.Before(due) {
		delete(c.rechecks, dev.ID)
	}
	c.mu.Unlock()

	if pending {
		if now.Before(due) {
			return
		}
		if c.engine.Matches(dev.Label(), dev.Prop(PropSavedStates), c.host) {
			c.setOn(dev, true)
		}
		return
	}

	matches := c.engine.Matches(dev.Label(), dev.Prop(PropSavedStates), c.host)
	if matches != dev.OnState {
		c.setOn(dev, matches)
	}
}

func (c *Controller) setOn(dev host.Device, on bool) {
	if err := c.host.UpdateStates(dev.ID, host.State(host.StateOnOff, on)); err != nil {
		log.Error().Err(err).Str("scene", dev.Label()).Msg("Failed to update scene state")
		return
	}
	log.Debug().Str("scene", dev.Label()).Str("state", onOff(on)).Msg("Scene state follows devices")
}

// PendingRecheck reports whether a recheck is scheduled for the scene.
func (c *Controller) PendingRecheck(id host.DeviceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rechecks[id]
	return ok
}

func (c *Controller) record(t ledger.EventType, dev host.Device) {
	c.recordPayload(t, dev, nil)
}

func (c *Controller) recordPayload(t ledger.EventType, dev host.Device, payload map[string]any) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Append(t, string(dev.ID), payload); err != nil {
		log.Warn().Err(err).Str("scene", dev.Label()).Msg("Failed to record scene event")
	}
}
