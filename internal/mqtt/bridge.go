package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
)

// Broker is the part of Client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// DeviceState is the retained payload of a device state topic.
type DeviceState struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Class      string         `json:"class"`
	Type       string         `json:"type,omitempty"`
	On         bool           `json:"on"`
	Brightness int            `json:"brightness"`
	SpeedLevel int            `json:"speed_level"`
	States     map[string]any `json:"states,omitempty"`
}

func deviceState(d host.Device) DeviceState {
	return DeviceState{
		ID:         string(d.ID),
		Name:       d.Label(),
		Class:      string(d.Class),
		Type:       d.Type,
		On:         d.OnState,
		Brightness: d.Brightness,
		SpeedLevel: d.SpeedLevel,
		States:     d.States,
	}
}

// Command is the payload of a device command topic. A bare action name
// ("turnOn") is accepted as well.
type Command struct {
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

// ParseCommand decodes a command payload into a host action.
func ParseCommand(payload []byte) (host.Action, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return host.Action{}, fmt.Errorf("empty command")
	}
	if payload[0] != '{' {
		return host.ParseAction(string(payload), 0)
	}
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return host.Action{}, fmt.Errorf("invalid command: %w", err)
	}
	return host.ParseAction(cmd.Action, cmd.Value)
}

// Bridge mirrors host state to the broker and feeds broker commands back
// into the host.
type Bridge struct {
	broker Broker
	topics Topics
	qos    byte
	host   host.Host

	mu  sync.RWMutex
	ctx context.Context
}

// NewBridge creates a bridge publishing under topics.
func NewBridge(broker Broker, topics Topics, qos byte, h host.Host) *Bridge {
	return &Bridge{
		broker: broker,
		topics: topics,
		qos:    qos,
		host:   h,
		ctx:    context.Background(),
	}
}

// Start subscribes to command topics and bus events, then publishes the
// current state of every device and variable. Commands are dispatched with ctx.
func (b *Bridge) Start(ctx context.Context, bus *eventbus.Bus, variables []host.Variable) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	if err := b.broker.Subscribe(b.topics.AllDeviceCommands(), b.qos, b.HandleCommand); err != nil {
		return fmt.Errorf("subscribe device commands: %w", err)
	}
	if err := b.broker.Subscribe(b.topics.AllVariableSets(), b.qos, b.HandleVariableSet); err != nil {
		return fmt.Errorf("subscribe variable sets: %w", err)
	}

	if bus != nil {
		bus.Subscribe(eventbus.EventTypeDeviceUpdated, b.DeviceUpdated)
		bus.Subscribe(eventbus.EventTypeVariableUpdated, b.VariableUpdated)
		bus.Subscribe(eventbus.EventTypeFlash, b.FlashEvent)
	}

	for _, d := range b.host.Devices() {
		b.publishDevice(d)
	}
	for _, v := range variables {
		b.publishVariable(v)
	}

	log.Info().Str("prefix", b.topics.prefix()).Msg("MQTT bridge started")
	return nil
}

func (b *Bridge) context() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

// HandleCommand dispatches a device command message.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	id, ok := b.topics.ParseDeviceCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	action, err := ParseCommand(payload)
	if err != nil {
		return err
	}

	log.Debug().Str("device", id).Stringer("action", action).Msg("MQTT command")
	return b.host.Dispatch(b.context(), host.DeviceID(id), action)
}

// HandleVariableSet writes the raw payload to a variable.
func (b *Bridge) HandleVariableSet(topic string, payload []byte) error {
	id, ok := b.topics.ParseVariableSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return b.host.SetVariable(b.context(), host.VariableID(id), string(bytes.TrimSpace(payload)))
}

// DeviceUpdated publishes the new device state.
func (b *Bridge) DeviceUpdated(e eventbus.Event) {
	if _, updated, ok := host.DeviceChange(e); ok {
		b.publishDevice(updated)
	}
}

// VariableUpdated publishes the new variable value.
func (b *Bridge) VariableUpdated(e eventbus.Event) {
	if _, updated, ok := host.VariableChange(e); ok {
		b.publishVariable(updated)
	}
}

// FlashEvent publishes flash job lifecycle changes (not retained).
func (b *Bridge) FlashEvent(e eventbus.Event) {
	id, _ := e.Data["id"].(string)
	if id == "" {
		return
	}
	payload, err := json.Marshal(e.Data)
	if err != nil {
		log.Warn().Err(err).Str("job", id).Msg("Failed to encode flash event")
		return
	}
	if err := b.broker.Publish(b.topics.Flash(id), payload, b.qos, false); err != nil {
		log.Warn().Err(err).Str("job", id).Msg("Failed to publish flash event")
	}
}

func (b *Bridge) publishDevice(d host.Device) {
	payload, err := json.Marshal(deviceState(d))
	if err != nil {
		log.Warn().Err(err).Str("device", string(d.ID)).Msg("Failed to encode device state")
		return
	}
	if err := b.broker.Publish(b.topics.DeviceState(string(d.ID)), payload, b.qos, true); err != nil {
		log.Warn().Err(err).Str("device", string(d.ID)).Msg("Failed to publish device state")
	}
}

func (b *Bridge) publishVariable(v host.Variable) {
	if err := b.broker.Publish(b.topics.VariableState(string(v.ID)), []byte(v.Value), b.qos, true); err != nil {
		log.Warn().Err(err).Str("variable", string(v.ID)).Msg("Failed to publish variable")
	}
}
