// Package reconcile owns the change-detection caches and the periodic poll
// loop that keeps linked devices in step with their variables and relays.
package reconcile

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/changecache"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/level"
)

// LinkKey identifies a device/variable link.
type LinkKey struct {
	Device   host.DeviceID
	Variable host.VariableID
}

// State holds the last observed value of every linked entity.
// Entries are created when a device starts and removed when it stops.
type State struct {
	Variables  *changecache.Cache[LinkKey, string]
	Brightness *changecache.Cache[host.DeviceID, int]
	Relays     *changecache.Cache[host.DeviceID, level.RelayPair]
}

// NewState creates empty caches.
func NewState() *State {
	return &State{
		Variables:  changecache.New[LinkKey, string](),
		Brightness: changecache.New[host.DeviceID, int](),
		Relays:     changecache.New[host.DeviceID, level.RelayPair](),
	}
}

// StopDevice forgets everything observed for a device.
func (s *State) StopDevice(id host.DeviceID) {
	n := s.Variables.ForgetFunc(func(k LinkKey) bool { return k.Device == id })
	s.Brightness.Forget(id)
	s.Relays.Forget(id)
	log.Debug().Str("device", string(id)).Int("links", n).Msg("Cleared change-detection state")
}
