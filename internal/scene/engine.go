package scene

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lighttools/internal/host"
)

// Engine saves, compares and applies snapshots against a host.
type Engine struct {
	limiter *rate.Limiter
}

// NewEngine creates an engine. A non-nil limiter paces Apply writes.
func NewEngine(limiter *rate.Limiter) *Engine {
	return &Engine{limiter: limiter}
}

// Save captures every selected device and variable. Entities that are missing
// or have no capturable state are logged and skipped. ErrEmptySelection is
// returned when nothing could be captured.
func (e *Engine) Save(r host.Reader, devices []host.DeviceID, variables []host.VariableID) (Snapshot, error) {
	snap := make(Snapshot, len(devices)+len(variables))

	for _, id := range devices {
		d, err := r.Device(id)
		if err != nil {
			log.Error().Err(err).Str("device", string(id)).Msg("Failed to save state for device")
			continue
		}
		rec, err := Capture(d)
		if err != nil {
			log.Warn().Err(err).Str("device", d.Label()).Msg("Skipping device without capturable state")
			continue
		}
		snap[DeviceKey(id)] = rec
		log.Info().Str("device", d.Label()).Str("state", describe(rec)).Msg("Saved device state")
	}

	for _, id := range variables {
		v, err := r.Variable(id)
		if err != nil {
			log.Error().Err(err).Str("variable", string(id)).Msg("Failed to save state for variable")
			continue
		}
		snap[VariableKey(id)] = Record{Kind: KindVariable, Value: v.Value}
		log.Info().Str("variable", v.Label()).Str("value", v.Value).Msg("Saved variable state")
	}

	if len(snap) == 0 {
		return nil, ErrEmptySelection
	}
	return snap, nil
}

// ItemResult is the comparison outcome for one snapshot entry.
type ItemResult struct {
	Key         Key      `json:"key"`
	Name        string   `json:"name"`
	Matches     bool     `json:"matches"`
	Differences []string `json:"differences,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Report lists every entry of a comparison in key order.
type Report struct {
	Items []ItemResult `json:"items"`
}

// Matches reports whether every entry matched. An empty report never matches.
func (r Report) Matches() bool {
	if len(r.Items) == 0 {
		return false
	}
	for _, it := range r.Items {
		if !it.Matches {
			return false
		}
	}
	return true
}

// Mismatched returns the entries that did not match.
func (r Report) Mismatched() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if !it.Matches {
			out = append(out, it)
		}
	}
	return out
}

// Compare re-captures live state for every entry and compares it field by
// field. All entries are evaluated.
func (e *Engine) Compare(snap Snapshot, r host.Reader) Report {
	keys := sortedKeys(snap)
	report := Report{Items: make([]ItemResult, 0, len(keys))}

	for _, k := range keys {
		report.Items = append(report.Items, compareEntry(k, snap[k], r))
	}
	return report
}

func compareEntry(k Key, saved Record, r host.Reader) ItemResult {
	item := ItemResult{Key: k, Name: k.ID}

	var current Record
	switch k.Kind {
	case KeyDevice:
		d, err := r.Device(host.DeviceID(k.ID))
		if err != nil {
			item.Error = err.Error()
			return item
		}
		item.Name = d.Label()
		current, err = Capture(d)
		if err != nil {
			item.Differences = []string{fmt.Sprintf("type: saved=%s, current=none", saved.Kind)}
			return item
		}
	case KeyVariable:
		v, err := r.Variable(host.VariableID(k.ID))
		if err != nil {
			item.Error = err.Error()
			return item
		}
		item.Name = v.Label()
		current = Record{Kind: KindVariable, Value: v.Value}
	}

	item.Differences = Diff(saved, current)
	item.Matches = len(item.Differences) == 0
	return item
}

// Matches parses an encoded snapshot and compares it to live state.
// An absent snapshot is a plain non-match; a malformed one is logged.
func (e *Engine) Matches(name, encoded string, r host.Reader) bool {
	snap, err := Parse(encoded)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			log.Error().Err(err).Str("scene", name).Msg("Invalid saved state data, save the scene state again")
		}
		return false
	}

	report := e.Compare(snap, r)
	for _, it := range report.Items {
		if it.Error != "" {
			log.Warn().Str("scene", name).Str("entry", it.Key.String()).Str("error", it.Error).
				Msg("Monitored entity no longer exists, reconfigure the scene")
		}
	}
	return report.Matches()
}

// ApplyResult counts applied and failed entries.
type ApplyResult struct {
	Applied int
	Failed  int
}

// Apply replays every entry through the matching write. Failures are logged
// per entry and do not stop the remaining entries. Apply stops early only
// when ctx is cancelled while waiting for the rate limiter.
func (e *Engine) Apply(ctx context.Context, snap Snapshot, w host.Writer) ApplyResult {
	var res ApplyResult
	for _, k := range sortedKeys(snap) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				log.Warn().Err(err).Msg("Scene apply interrupted")
				res.Failed += len(snap) - res.Applied - res.Failed
				return res
			}
		}

		if err := applyEntry(ctx, k, snap[k], w); err != nil {
			log.Error().Err(err).Str("entry", k.String()).Msg("Failed to apply scene state")
			res.Failed++
			continue
		}
		res.Applied++
	}
	return res
}

func applyEntry(ctx context.Context, k Key, rec Record, w host.Writer) error {
	if k.Kind == KeyVariable {
		return w.SetVariable(ctx, host.VariableID(k.ID), rec.Value)
	}

	id := host.DeviceID(k.ID)
	switch rec.Kind {
	case KindDimmer:
		return w.SetBrightness(ctx, id, rec.Brightness)
	case KindRelay:
		if rec.OnState {
			return w.TurnOn(ctx, id)
		}
		return w.TurnOff(ctx, id)
	case KindThermostat:
		var errs []error
		errs = append(errs, w.SetHVACMode(ctx, id, rec.HVACMode))
		errs = append(errs, w.SetFanMode(ctx, id, rec.FanMode))
		errs = append(errs, w.SetCoolSetpoint(ctx, id, rec.CoolSetpoint))
		errs = append(errs, w.SetHeatSetpoint(ctx, id, rec.HeatSetpoint))
		return errors.Join(errs...)
	case KindFan:
		return w.SetSpeedLevel(ctx, id, rec.SpeedLevel)
	case KindBlind:
		pos, err := strconv.ParseFloat(rec.Position, 64)
		if err != nil {
			return fmt.Errorf("blind %s: position %q is not numeric", id, rec.Position)
		}
		return w.SetPosition(ctx, id, pos)
	}
	return fmt.Errorf("cannot apply %s record to device %s", rec.Kind, id)
}

func sortedKeys(snap Snapshot) []Key {
	keys := make([]Key, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func describe(r Record) string {
	switch r.Kind {
	case KindDimmer:
		return fmt.Sprintf("brightness=%d%%", r.Brightness)
	case KindRelay:
		return onOff(r.OnState)
	case KindThermostat:
		return fmt.Sprintf("mode=%d heat=%g cool=%g fan=%d", r.HVACMode, r.HeatSetpoint, r.CoolSetpoint, r.FanMode)
	case KindFan:
		return fmt.Sprintf("speed=%d", r.SpeedLevel)
	case KindBlind:
		return fmt.Sprintf("position=%s%%", r.Position)
	case KindVariable:
		return r.Value
	}
	return string(r.Kind)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
