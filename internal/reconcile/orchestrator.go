package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the poll period.
const DefaultInterval = time.Second

// Reconciler is one poll step, run once per tick.
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context) error
}

type funcReconciler struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcReconciler) Name() string                        { return f.name }
func (f funcReconciler) Reconcile(ctx context.Context) error { return f.fn(ctx) }

// Func wraps a function as a Reconciler.
func Func(name string, fn func(ctx context.Context) error) Reconciler {
	return funcReconciler{name: name, fn: fn}
}

// Orchestrator runs every registered reconciler on a fixed tick, in
// registration order. A failing or panicking reconciler is logged and the
// loop carries on.
type Orchestrator struct {
	mu          sync.Mutex
	reconcilers []Reconciler
	trigger     chan struct{}
	interval    time.Duration
}

// NewOrchestrator creates a loop with the given period.
func NewOrchestrator(interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		trigger:  make(chan struct{}, 1),
		interval: interval,
	}
}

// Register adds a reconciler.
func (o *Orchestrator) Register(r Reconciler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconcilers = append(o.reconcilers, r)
}

// Trigger requests an immediate pass.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run loops until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Dur("interval", o.interval).Msg("Poll loop started")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poll loop stopping")
			return nil
		case <-o.trigger:
			o.ReconcileAll(ctx)
		case <-ticker.C:
			o.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll runs one pass over every reconciler.
func (o *Orchestrator) ReconcileAll(ctx context.Context) {
	o.mu.Lock()
	reconcilers := append([]Reconciler(nil), o.reconcilers...)
	o.mu.Unlock()

	for _, r := range reconcilers {
		if ctx.Err() != nil {
			return
		}
		o.reconcileOne(ctx, r)
	}
}

func (o *Orchestrator) reconcileOne(ctx context.Context, r Reconciler) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("reconciler", r.Name()).Msg("Reconciler panicked")
		}
	}()

	if err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("reconciler", r.Name()).Msg("Reconcile failed")
	}
}
