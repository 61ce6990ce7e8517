package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
)

// Measurement names.
const (
	MeasurementDevice   = "device_state"
	MeasurementVariable = "variable"
	MeasurementFlash    = "flash"
)

// PointWriter accepts points for asynchronous writing. api.WriteAPI
// satisfies it.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder turns bus events into points.
type Recorder struct {
	writer PointWriter
	now    func() time.Time
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w, now: time.Now}
}

// Subscribe registers the recorder's handlers on bus.
func (r *Recorder) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeDeviceUpdated, r.DeviceUpdated)
	bus.Subscribe(eventbus.EventTypeVariableUpdated, r.VariableUpdated)
	bus.Subscribe(eventbus.EventTypeFlash, r.Flash)
}

func (r *Recorder) DeviceUpdated(e eventbus.Event) {
	_, d, ok := host.DeviceChange(e)
	if !ok {
		return
	}

	tags := map[string]string{
		"device_id": string(d.ID),
		"class":     string(d.Class),
	}
	if d.Type != "" {
		tags["type"] = d.Type
	}
	fields := map[string]any{"on": d.OnState}
	switch d.Class {
	case host.ClassDimmer:
		fields["brightness"] = d.Brightness
	case host.ClassSpeedControl:
		fields["speed_index"] = d.SpeedIndex
		fields["speed_level"] = d.SpeedLevel
	case host.ClassThermostat:
		fields["hvac_mode"] = d.HVACMode
		fields["cool_setpoint"] = d.CoolSetpoint
		fields["heat_setpoint"] = d.HeatSetpoint
	}

	r.writer.WritePoint(write.NewPoint(MeasurementDevice, tags, fields, r.now()))
}

// VariableUpdated writes the raw value, plus a numeric field when the value
// parses as a number.
func (r *Recorder) VariableUpdated(e eventbus.Event) {
	_, v, ok := host.VariableChange(e)
	if !ok {
		return
	}

	fields := map[string]any{"value": v.Value}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64); err == nil {
		fields["number"] = f
	}
	r.writer.WritePoint(write.NewPoint(MeasurementVariable, map[string]string{"variable_id": string(v.ID)}, fields, r.now()))
}

func (r *Recorder) Flash(e eventbus.Event) {
	id, _ := e.Data["id"].(string)
	state, _ := e.Data["state"].(string)
	if id == "" || state == "" {
		return
	}
	devices, _ := e.Data["devices"].([]string)
	cancelled, _ := e.Data["cancelled"].(bool)

	r.writer.WritePoint(write.NewPoint(
		MeasurementFlash,
		map[string]string{"job": id, "state": state},
		map[string]any{"devices": len(devices), "cancelled": cancelled},
		r.now(),
	))
}
