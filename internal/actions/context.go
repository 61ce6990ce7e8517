// Package actions provides the action group registry and invocation system.
package actions

import (
	"context"

	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
)

// FlashControl starts and cancels flash sequences
type FlashControl interface {
	Start(opts flash.Options) (*flash.Job, error)
	CancelAll() int
	IsFlashing(id host.DeviceID) bool
}

// Context is the capability interface provided to actions
// It exposes stable methods, not raw pointers
type Context struct {
	ctx       context.Context // Go context for cancellation/timeout
	source    string
	host      host.Host
	flash     FlashControl
	runAction func(name string, args map[string]any) error
}

// NewContext creates a new action Context
func NewContext(
	ctx context.Context,
	source string,
	h host.Host,
	flashes FlashControl,
	runAction func(name string, args map[string]any) error,
) *Context {
	return &Context{
		ctx:       ctx,
		source:    source,
		host:      h,
		flash:     flashes,
		runAction: runAction,
	}
}

// Ctx returns the Go context for cancellation
func (c *Context) Ctx() context.Context {
	return c.ctx
}

// Source names what triggered the action ("scene", "api", "lua", ...)
func (c *Context) Source() string {
	return c.source
}

// Host returns the device and variable host
func (c *Context) Host() host.Host {
	return c.host
}

// Flash returns the flash sequencer, or nil when flashing is unavailable
func (c *Context) Flash() FlashControl {
	return c.flash
}

// RunAction runs another action by name (for composition)
func (c *Context) RunAction(name string, args map[string]any) error {
	if c.runAction != nil {
		return c.runAction(name, args)
	}
	return nil
}
