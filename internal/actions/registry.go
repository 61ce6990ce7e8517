package actions

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicate is returned when an action group name is taken.
var ErrDuplicate = errors.New("action already defined")

// Origin tells where an action group was defined.
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginScript  Origin = "script"
)

// Action is a named action group.
type Action interface {
	Name() string
	Origin() Origin
	Execute(ctx *Context, args map[string]any) error
}

// Func adapts a Go function to Action.
type Func struct {
	name   string
	origin Origin
	fn     func(ctx *Context, args map[string]any) error
}

// NewFunc returns a builtin action group backed by fn.
func NewFunc(name string, fn func(ctx *Context, args map[string]any) error) *Func {
	return &Func{name: name, origin: OriginBuiltin, fn: fn}
}

func (a *Func) Name() string   { return a.name }
func (a *Func) Origin() Origin { return a.origin }

func (a *Func) Execute(ctx *Context, args map[string]any) error {
	return a.fn(ctx, args)
}

// Info describes a registered action group.
type Info struct {
	Name   string `json:"name"`
	Origin Origin `json:"origin"`
}

// Registry holds the action groups known to the process.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action group. Names are unique across origins, so a
// script cannot shadow a builtin.
func (r *Registry) Register(action Action) error {
	name := action.Name()
	if name == "" {
		return fmt.Errorf("action group needs a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.actions[name]; ok {
		return fmt.Errorf("%w: %q (%s)", ErrDuplicate, name, prev.Origin())
	}
	r.actions[name] = action
	return nil
}

// RegisterFunc registers a builtin action group.
func (r *Registry) RegisterFunc(name string, fn func(ctx *Context, args map[string]any) error) error {
	return r.Register(NewFunc(name, fn))
}

func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	infos := r.Describe()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Describe lists every action group sorted by name.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.actions))
	for name, a := range r.actions {
		out = append(out, Info{Name: name, Origin: a.Origin()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns how many action groups came from the given origin.
func (r *Registry) Count(origin Origin) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.actions {
		if a.Origin() == origin {
			n++
		}
	}
	return n
}
