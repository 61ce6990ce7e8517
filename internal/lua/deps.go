package lua

import (
	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/lua/modules"
)

// RuntimeDeps groups all dependencies needed by the Lua runtime.
// Flash and Scenes may be nil, in which case their modules are not offered.
type RuntimeDeps struct {
	Registry      *actions.Registry
	Invoker       *actions.Invoker
	Host          host.Host
	Flash         actions.FlashControl
	FlashDefaults flash.Defaults
	Scenes        modules.SceneControl
	// BaseDir resolves relative script paths (the config file's directory)
	BaseDir   string
	QueueSize int
}
