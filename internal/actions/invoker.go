package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/ledger"
)

// ErrNotFound is returned when no action is registered under a name
var ErrNotFound = errors.New("action not found")

// Recorder appends audit entries
type Recorder interface {
	AppendWithSource(eventType ledger.EventType, subject, source string, payload map[string]any) error
}

// ContextFactory builds the action Context for one invocation
type ContextFactory func(ctx context.Context, source string, runAction func(name string, args map[string]any) error) *Context

// Invoker executes actions and records their outcome in the ledger
type Invoker struct {
	registry   *Registry
	recorder   Recorder
	ctxFactory ContextFactory
}

// NewInvoker creates a new action invoker. recorder may be nil.
func NewInvoker(registry *Registry, recorder Recorder, ctxFactory ContextFactory) *Invoker {
	return &Invoker{
		registry:   registry,
		recorder:   recorder,
		ctxFactory: ctxFactory,
	}
}

// Invoke executes an action without a source tag
func (i *Invoker) Invoke(ctx context.Context, actionName string, args map[string]any) error {
	return i.InvokeWithSource(ctx, actionName, args, "")
}

// InvokeWithSource executes an action and records action_completed or
// action_failed with the given source
func (i *Invoker) InvokeWithSource(ctx context.Context, actionName string, args map[string]any, source string) error {
	action, exists := i.registry.Get(actionName)
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, actionName)
	}
	if args == nil {
		args = map[string]any{}
	}

	runAction := func(name string, args map[string]any) error {
		return i.InvokeWithSource(ctx, name, args, actionName)
	}
	actx := i.ctxFactory(ctx, source, runAction)

	logEvent := log.Debug().Str("action", actionName).Interface("args", args)
	if source != "" {
		logEvent = logEvent.Str("source", source)
	}
	logEvent.Msg("Executing action")

	start := time.Now()
	err := action.Execute(actx, args)
	elapsed := time.Since(start)

	if err != nil {
		i.record(ledger.EventActionFailed, actionName, source, map[string]any{
			"action": actionName,
			"error":  err.Error(),
		})
		return fmt.Errorf("action %q failed: %w", actionName, err)
	}

	i.record(ledger.EventActionCompleted, actionName, source, map[string]any{
		"action":      actionName,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// HasAction checks if an action is registered
func (i *Invoker) HasAction(actionName string) bool {
	_, exists := i.registry.Get(actionName)
	return exists
}

func (i *Invoker) record(eventType ledger.EventType, actionName, source string, payload map[string]any) {
	if i.recorder == nil {
		return
	}
	if err := i.recorder.AppendWithSource(eventType, actionName, source, payload); err != nil {
		log.Error().Err(err).Str("action", actionName).Msg("Failed to record action result")
	}
}
