package host

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/storage"
)

// Persister saves and restores device and variable snapshots.
type Persister interface {
	SaveDevice(d Device) error
	SaveVariable(v Variable) error
	LoadDevices() (map[string]Device, error)
	LoadVariables() (map[string]Variable, error)
	Clear() error
}

const (
	kindDevice   = "device"
	kindVariable = "variable"
)

// StorePersister keeps snapshots in the entity_state table.
type StorePersister struct {
	devices   *storage.TypedStore[Device]
	variables *storage.TypedStore[Variable]
}

// NewStorePersister creates a persister on store.
func NewStorePersister(store *storage.Store) *StorePersister {
	return &StorePersister{
		devices:   storage.NewTypedStore[Device](store, kindDevice),
		variables: storage.NewTypedStore[Variable](store, kindVariable),
	}
}

func (p *StorePersister) SaveDevice(d Device) error {
	return p.devices.Set(string(d.ID), d)
}

func (p *StorePersister) SaveVariable(v Variable) error {
	return p.variables.Set(string(v.ID), v)
}

func (p *StorePersister) LoadDevices() (map[string]Device, error) {
	return p.devices.GetAll()
}

func (p *StorePersister) LoadVariables() (map[string]Variable, error) {
	return p.variables.GetAll()
}

// Clear drops every stored snapshot.
func (p *StorePersister) Clear() error {
	if err := p.devices.Clear(); err != nil {
		return fmt.Errorf("failed to clear devices: %w", err)
	}
	if err := p.variables.Clear(); err != nil {
		return fmt.Errorf("failed to clear variables: %w", err)
	}
	return nil
}

// Restore overlays persisted runtime state onto the registered inventory.
// Identity fields (name, class, type) come from the registration; stored
// properties are applied first and registered properties override them.
// Persisted entities that are no longer registered are ignored.
func (r *Registry) Restore() error {
	if r.persister == nil {
		return nil
	}

	devices, err := r.persister.LoadDevices()
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	variables, err := r.persister.LoadVariables()
	if err != nil {
		return fmt.Errorf("failed to load variables: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for id, saved := range devices {
		current, ok := r.devices[DeviceID(id)]
		if !ok {
			log.Debug().Str("device", id).Msg("Skipping persisted device that is no longer configured")
			continue
		}

		merged := saved.Clone()
		merged.ID = current.ID
		merged.Name = current.Name
		merged.Class = current.Class
		merged.Type = current.Type
		if merged.States == nil {
			merged.States = make(map[string]any)
		}
		if merged.Props == nil {
			merged.Props = make(map[string]string)
		}
		for k, v := range current.Props {
			merged.Props[k] = v
		}
		*current = merged
		restored++
	}

	for id, saved := range variables {
		current, ok := r.variables[VariableID(id)]
		if !ok {
			continue
		}
		current.Value = saved.Value
		restored++
	}

	log.Info().Int("restored", restored).Msg("Restored persisted host state")
	return nil
}
