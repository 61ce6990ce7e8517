package app

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/config"
	luart "github.com/dokzlo13/lighttools/internal/lua"
)

// LuaService wraps the Lua runtime and provides thread-safe execution.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService.
func NewLuaService(cfg *config.Config, deps luart.RuntimeDeps) *LuaService {
	if deps.BaseDir == "" && cfg.ScriptPath() != "" {
		deps.BaseDir = filepath.Dir(cfg.ScriptPath())
	}
	return &LuaService{
		cfg:     cfg,
		Runtime: luart.NewRuntime(deps),
	}
}

// LoadScript loads and executes the configured Lua script, if any.
// Must be called before Start().
func (s *LuaService) LoadScript() error {
	path := s.cfg.ScriptPath()
	if path == "" {
		log.Info().Msg("No Lua script configured, only built-in actions are available")
		return nil
	}
	return s.Runtime.LoadScript(path)
}

// Start begins the Lua worker goroutine - the ONLY goroutine that touches Lua.
func (s *LuaService) Start(ctx context.Context) {
	go s.Runtime.Run(ctx)
}

// InvokeThroughLua invokes an action through the Lua worker for thread safety.
func (s *LuaService) InvokeThroughLua(ctx context.Context, name string, args map[string]any, source string) error {
	return s.Runtime.InvokeThroughLua(ctx, name, args, source)
}

// RunActionGroup queues an action group without waiting for it.
func (s *LuaService) RunActionGroup(ctx context.Context, name string) error {
	return s.Runtime.RunActionGroup(ctx, name)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}

// lazyGroups lets scenes be built before the Lua runtime that runs their
// action groups.
type lazyGroups struct {
	lua *LuaService
}

func (g *lazyGroups) RunActionGroup(ctx context.Context, name string) error {
	if g.lua == nil {
		return actions.ErrNotFound
	}
	return g.lua.RunActionGroup(ctx, name)
}
