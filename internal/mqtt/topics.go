package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds topic names under a common prefix:
//
//	<prefix>/device/<id>/state      retained device state (JSON)
//	<prefix>/device/<id>/command    device commands (JSON)
//	<prefix>/variable/<id>/state    retained variable value
//	<prefix>/variable/<id>/set      variable writes
//	<prefix>/flash/<job>            flash job lifecycle
//	<prefix>/system/status          online/offline, also the LWT
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return "lighttools"
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) DeviceState(id string) string {
	return fmt.Sprintf("%s/device/%s/state", t.prefix(), id)
}

func (t Topics) DeviceCommand(id string) string {
	return fmt.Sprintf("%s/device/%s/command", t.prefix(), id)
}

func (t Topics) VariableState(id string) string {
	return fmt.Sprintf("%s/variable/%s/state", t.prefix(), id)
}

func (t Topics) VariableSet(id string) string {
	return fmt.Sprintf("%s/variable/%s/set", t.prefix(), id)
}

func (t Topics) Flash(jobID string) string {
	return fmt.Sprintf("%s/flash/%s", t.prefix(), jobID)
}

func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllDeviceCommands is the subscription filter for every device command topic.
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommand("+")
}

// AllVariableSets is the subscription filter for every variable set topic.
func (t Topics) AllVariableSets() string {
	return t.VariableSet("+")
}

// ParseDeviceCommand extracts the device id from a command topic.
func (t Topics) ParseDeviceCommand(topic string) (string, bool) {
	return t.parse(topic, "device", "command")
}

// ParseVariableSet extracts the variable id from a set topic.
func (t Topics) ParseVariableSet(topic string) (string, bool) {
	return t.parse(topic, "variable", "set")
}

func (t Topics) parse(topic, kind, verb string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/"+kind+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+verb)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
