package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/watch"
	"github.com/rs/zerolog/log"
)

// Engine evaluates every loaded plugin and keeps the most severe verdict.
// Plugin failures are logged and treated as nothing to report.
type Engine struct {
	mu         sync.RWMutex
	dir        string
	loader     Loader
	watcher    *watch.Watcher
	evaluators map[string]Evaluator
}

// NewEngine loads the plugins of kind from dir and reloads them when the
// directory changes. An empty dir yields an engine with no plugins.
func NewEngine(dir string, kind Kind) (*Engine, error) {
	loader, err := NewLoader(kind)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		dir:        dir,
		loader:     loader,
		evaluators: make(map[string]Evaluator),
	}
	if dir == "" {
		return engine, nil
	}

	if err := engine.loadPolicies(); err != nil {
		if !errors.Is(err, ErrNoPolicies) {
			return nil, fmt.Errorf("initial load: %w", err)
		}
		log.Warn().Str("dir", dir).Str("engine", string(kind)).Msg("no plugins loaded - checks will only log built-in findings")
	}

	watcher, err := watch.New(dir, loader.Matches, engine.handlePolicyChange)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	engine.watcher = watcher

	return engine, nil
}

// NewStaticEngine wraps fixed evaluators, without reloading.
func NewStaticEngine(evaluators map[string]Evaluator) *Engine {
	return &Engine{evaluators: maps.Clone(evaluators)}
}

// Evaluate runs req through the plugins in name order and stops at the
// first block.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Response, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	best := Response{Action: check.ActionIgnore.String()}
	bestAction := check.ActionIgnore

	for _, name := range slices.Sorted(maps.Keys(e.evaluators)) {
		resp, err := e.evaluators[name].Evaluate(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("policy", name).Str("check_type", req.CheckType).Msg("policy evaluation failed")
			continue
		}

		action, err := check.ParseAction(resp.Action)
		if err != nil {
			log.Warn().Err(err).Str("policy", name).Msg("policy returned unknown action")
			continue
		}
		if action > bestAction {
			best, bestAction = resp, action
		}
		if action == check.ActionBlock {
			break
		}
	}

	return best, nil
}

// Check evaluates req and converts the decision for check type t.
func (e *Engine) Check(ctx context.Context, t check.Type, req Request) check.Verdict {
	req.CheckType = t.String()
	resp, err := e.Evaluate(ctx, req)
	if err != nil {
		return check.Continue
	}
	return resp.Verdict(t)
}

// Names lists the loaded plugins.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.evaluators))
}

func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.reloadLocked()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			return err
		}
	}

	for _, eval := range e.evaluators {
		if err := eval.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close evaluator")
		}
	}
	e.evaluators = map[string]Evaluator{}

	return nil
}

func (e *Engine) loadPolicies() error {
	policies, err := LoadFromDir(e.loader, e.dir)
	if err != nil {
		return err
	}

	for name, eval := range policies {
		e.evaluators[name] = eval
		log.Info().Str("policy", name).Str("engine", string(e.loader.Kind())).Msg("policy loaded")
	}

	return nil
}

// reloadLocked swaps in a fresh set. The old set stays active when the
// directory no longer yields any plugin.
func (e *Engine) reloadLocked() error {
	if e.loader == nil || e.dir == "" {
		return nil
	}

	policies, err := LoadFromDir(e.loader, e.dir)
	if err != nil {
		return err
	}

	for _, eval := range e.evaluators {
		eval.Close()
	}
	e.evaluators = policies

	log.Info().Int("count", len(policies)).Msg("policies reloaded")
	return nil
}

func (e *Engine) handlePolicyChange(path string) {
	log.Info().Str("path", path).Msg("policy change detected")

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.reloadLocked(); err != nil {
		log.Error().Err(err).Msg("failed to reload policies")
	}
}
