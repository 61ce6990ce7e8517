package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// ErrQueueFull is returned when work cannot be queued without blocking
var ErrQueueFull = errors.New("lua work queue full")

const defaultQueueSize = 100

// LuaWork represents work to be executed on the Lua VM
// All Lua execution MUST go through this to ensure thread safety
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L       *lua.LState
	deps    RuntimeDeps
	invoker *actions.Invoker

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	workerDone chan struct{}
}

// NewRuntime creates a new Lua runtime
func NewRuntime(deps RuntimeDeps) *Runtime {
	size := deps.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	r := &Runtime{
		L:         lua.NewState(),
		deps:      deps,
		invoker:   deps.Invoker,
		workQueue: make(chan LuaWork, size),
		closing:   make(chan struct{}),
	}
	r.registerModules()
	return r
}

// Close signals the runtime to stop accepting new work, waits for the worker
// to finish its current item and closes the Lua state.
// Safe to call concurrently with Do/DoSync, but not from the worker itself.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		// workQueue is left open so late senders cannot panic

		r.mu.Lock()
		done := r.workerDone
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		r.L.Close()
	})
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking)
// Returns false if the runtime is closing, queue is full, or context is cancelled.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work and blocks until there's space (thread-safe, blocking)
func (r *Runtime) DoSync(ctx context.Context, work LuaWork) error {
	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
		return nil
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// DoSyncWithResult queues work, waits for space, and waits for the result.
// It must not be called from the Lua worker itself.
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	if err := r.DoSync(ctx, wrapped); err != nil {
		return err
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// InvokeThroughLua runs an action on the Lua worker and waits for its result.
func (r *Runtime) InvokeThroughLua(ctx context.Context, name string, args map[string]any, source string) error {
	return r.DoSyncWithResult(ctx, func(workCtx context.Context) error {
		return r.invoker.InvokeWithSource(workCtx, name, args, source)
	})
}

// RunActionGroup queues an action group for the Lua worker without waiting
// for it. Failures of the group itself are logged and recorded by the invoker.
// Scenes call this from device handlers that may already run on the worker,
// so it must not block.
func (r *Runtime) RunActionGroup(ctx context.Context, name string) error {
	if !r.invoker.HasAction(name) {
		return fmt.Errorf("%w: %q", actions.ErrNotFound, name)
	}
	queued := r.Do(ctx, func(workCtx context.Context) {
		if err := r.invoker.InvokeWithSource(workCtx, name, nil, "scene"); err != nil {
			log.Error().Err(err).Str("action_group", name).Msg("Action group failed")
		}
	})
	if !queued {
		if r.isClosing() {
			return ErrRuntimeClosed
		}
		return ErrQueueFull
	}
	return nil
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules() {
	r.L.PreloadModule("log", modules.NewLogModule().Loader)
	r.L.PreloadModule("utils", modules.NewUtilsModule().Loader)
	r.L.PreloadModule("action", modules.NewActionModule(r.deps.Registry, r.deps.Invoker).Loader)

	if r.deps.Host != nil {
		r.L.PreloadModule("devices", modules.NewDevicesModule(r.deps.Host).Loader)
		r.L.PreloadModule("variables", modules.NewVariablesModule(r.deps.Host).Loader)
	}
	if r.deps.Flash != nil {
		r.L.PreloadModule("flash", modules.NewFlashModule(r.deps.Flash, r.deps.FlashDefaults).Loader)
	}
	if r.deps.Scenes != nil {
		r.L.PreloadModule("scenes", modules.NewScenesModule(r.deps.Scenes).Loader)
	}
}

// Run starts the Lua worker goroutine - this is the ONLY goroutine that touches Lua.
// Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	done := make(chan struct{})
	r.workerDone = done
	r.mu.Unlock()
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			if r.isClosing() {
				return
			}
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	// Modules read the Go context through L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript loads and executes a Lua script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	if !filepath.IsAbs(path) && r.deps.BaseDir != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join(r.deps.BaseDir, path)
		}
	}

	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Strs("actions", r.deps.Registry.Names()).Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes Lua source (must be called before Run)
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}
