// Package bootstrap runs cmd/ingestd's startup sequence as a
// priority-ordered list of named hooks, sequencing: infra (logger, config,
// policy) -> core (EventBus, SourceRegistry, clock) -> venue clients &
// pollers -> aggregators & CVD -> quality monitor -> journal -> admin API
// -> background (replay warm-start, if configured).
package bootstrap

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aspenmd/ingestd/logx"
)

// Priority constants order hook execution; lower runs first.
const (
	PriorityInfrastructure = 10  // logger, config, policy
	PriorityCore           = 50  // EventBus, SourceRegistry, clock
	PriorityIngestion      = 80  // venue clients, pollers
	PriorityAggregation    = 100 // aggregators, CVD, quality monitor
	PriorityPersistence    = 120 // journal
	PriorityAPI            = 150 // admin API
	PriorityBackground     = 200 // replay warm-start, background tasks
)

// ErrorPolicy controls how Run reacts to a failing hook.
type ErrorPolicy int

const (
	// FailFast stops at the first failing hook (default).
	FailFast ErrorPolicy = iota
	// ContinueOnError runs every hook, collecting all errors.
	ContinueOnError
	// WarnOnError runs every hook, logging failures without collecting them.
	WarnOnError
)

// Hook is one named, prioritised startup step.
type Hook struct {
	Name        string
	Priority    int
	Func        func(*Context) error
	Enabled     func(*Context) bool
	ErrorPolicy ErrorPolicy
}

// HookBuilder lets Register's caller chain optional configuration.
type HookBuilder struct {
	hook *Hook
}

// OnlyIf sets a predicate gating whether the hook runs.
func (b *HookBuilder) OnlyIf(pred func(*Context) bool) *HookBuilder {
	b.hook.Enabled = pred
	return b
}

// WithErrorPolicy overrides the hook's error handling.
func (b *HookBuilder) WithErrorPolicy(p ErrorPolicy) *HookBuilder {
	b.hook.ErrorPolicy = p
	return b
}

var (
	hooks   []Hook
	hooksMu sync.Mutex
)

// Register adds a named, prioritised startup hook.
func Register(name string, priority int, fn func(*Context) error) *HookBuilder {
	hooksMu.Lock()
	defer hooksMu.Unlock()

	hooks = append(hooks, Hook{
		Name:        name,
		Priority:    priority,
		Func:        fn,
		ErrorPolicy: FailFast,
	})
	return &HookBuilder{hook: &hooks[len(hooks)-1]}
}

// Run executes every registered hook in priority order, under FailFast.
func Run(ctx *Context) error {
	return RunWithPolicy(ctx, FailFast)
}

// RunWithPolicy executes every registered hook in priority order, using
// defaultPolicy for any hook that didn't set its own.
func RunWithPolicy(ctx *Context, defaultPolicy ErrorPolicy) error {
	hooksMu.Lock()
	hooksCopy := make([]Hook, len(hooks))
	copy(hooksCopy, hooks)
	hooksMu.Unlock()

	log := logx.Component("bootstrap")
	if len(hooksCopy) == 0 {
		log.Warn().Msg("no bootstrap hooks registered")
		return nil
	}

	sort.Slice(hooksCopy, func(i, j int) bool { return hooksCopy[i].Priority < hooksCopy[j].Priority })

	start := time.Now()
	log.Info().Int("count", len(hooksCopy)).Msg("starting bootstrap")

	var errs []error
	succeeded, skipped := 0, 0

	for i, hook := range hooksCopy {
		if hook.Enabled != nil && !hook.Enabled(ctx) {
			log.Info().Int("step", i+1).Int("total", len(hooksCopy)).Str("hook", hook.Name).Msg("skipped")
			skipped++
			continue
		}

		hookStart := time.Now()
		err := hook.Func(ctx)
		elapsed := time.Since(hookStart)

		if err != nil {
			wrapped := fmt.Errorf("%s: %w", hook.Name, err)
			policy := hook.ErrorPolicy
			if policy == FailFast && defaultPolicy != FailFast {
				policy = defaultPolicy
			}
			switch policy {
			case FailFast:
				log.Error().Err(err).Str("hook", hook.Name).Dur("elapsed", elapsed).Msg("bootstrap hook failed")
				return wrapped
			case ContinueOnError:
				log.Error().Err(err).Str("hook", hook.Name).Dur("elapsed", elapsed).Msg("bootstrap hook failed, continuing")
				errs = append(errs, wrapped)
			case WarnOnError:
				log.Warn().Err(err).Str("hook", hook.Name).Dur("elapsed", elapsed).Msg("bootstrap hook failed, ignoring")
			}
		} else {
			log.Info().Str("hook", hook.Name).Dur("elapsed", elapsed).Msg("bootstrap hook completed")
			succeeded++
		}
	}

	log.Info().Dur("elapsed", time.Since(start)).Int("succeeded", succeeded).Int("skipped", skipped).Int("failed", len(errs)).Msg("bootstrap finished")

	if len(errs) > 0 {
		return fmt.Errorf("bootstrap: %d hook(s) failed: %v", len(errs), errs)
	}
	return nil
}

// GetRegistered returns a snapshot of currently registered hooks, for
// diagnostics.
func GetRegistered() []Hook {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	return out
}

// Clear removes all registered hooks. Tests only.
func Clear() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
}

// Count returns the number of registered hooks.
func Count() int {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return len(hooks)
}
