package host

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// ActionKind is a device command.
type ActionKind string

const (
	ActionTurnOn             ActionKind = "turnOn"
	ActionTurnOff            ActionKind = "turnOff"
	ActionToggle             ActionKind = "toggle"
	ActionSetBrightness      ActionKind = "setBrightness"
	ActionBrightenBy         ActionKind = "brightenBy"
	ActionDimBy              ActionKind = "dimBy"
	ActionSetSpeedIndex      ActionKind = "setSpeedIndex"
	ActionSetSpeedLevel      ActionKind = "setSpeedLevel"
	ActionIncreaseSpeedIndex ActionKind = "increaseSpeedIndex"
	ActionDecreaseSpeedIndex ActionKind = "decreaseSpeedIndex"
)

var actionKinds = []ActionKind{
	ActionTurnOn, ActionTurnOff, ActionToggle,
	ActionSetBrightness, ActionBrightenBy, ActionDimBy,
	ActionSetSpeedIndex, ActionSetSpeedLevel, ActionIncreaseSpeedIndex, ActionDecreaseSpeedIndex,
}

// ParseActionKind matches an action name case-insensitively.
func ParseActionKind(s string) (ActionKind, error) {
	s = strings.TrimSpace(s)
	for _, k := range actionKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Action is a command addressed to a device, with an optional numeric value.
type Action struct {
	Kind  ActionKind `json:"action"`
	Value float64    `json:"value,omitempty"`
}

// ParseAction builds an Action from a case-insensitive action name.
func ParseAction(name string, value float64) (Action, error) {
	kind, err := ParseActionKind(name)
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: kind, Value: value}, nil
}

// IntValue returns Value rounded to the nearest integer.
func (a Action) IntValue() int {
	return int(math.Round(a.Value))
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSetBrightness, ActionBrightenBy, ActionDimBy, ActionSetSpeedIndex, ActionSetSpeedLevel:
		return fmt.Sprintf("%s(%g)", a.Kind, a.Value)
	}
	return string(a.Kind)
}

// ActionHandler executes commands for a plugin device type.
type ActionHandler interface {
	HandleAction(ctx context.Context, dev Device, action Action) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, dev Device, action Action) error

func (f ActionHandlerFunc) HandleAction(ctx context.Context, dev Device, action Action) error {
	return f(ctx, dev, action)
}
