// Package hook provides the priority-tiered handler registry consulted at
// module initialisation and at every interception point.
//
// Handlers are registered under a tier. Each tier holds at most
// TierCapacity handlers; registrations beyond that are dropped and counted,
// never fatal. Dispatch visits tiers in ascending order and handlers in
// registration order. A handler asking to block stops dispatch at once;
// handlers that only log do not.
//
// The registry is filled during start-up and only read afterwards, so reads
// take no locks.
package hook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/rs/zerolog/log"
)

// Priority is a dispatch tier. Lower tiers run first.
type Priority uint8

const (
	PriorityFirst Priority = iota
	PriorityNormal
	PriorityLast

	priorityTotal
)

// TierCapacity bounds the number of handlers in one tier.
const TierCapacity = 256

func (p Priority) String() string {
	switch p {
	case PriorityFirst:
		return "first"
	case PriorityNormal:
		return "normal"
	case PriorityLast:
		return "last"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// InitFunc installs instrumentation at module initialisation.
type InitFunc func(ctx context.Context) error

// CheckFunc evaluates an operation at an interception point.
type CheckFunc func(ctx context.Context, op *Operation) check.Verdict

// Hook is a tagged handler. Init runs once at module initialisation; Check
// runs for every operation at one of Points.
type Hook struct {
	Name   string
	Type   check.Type
	Points []Point
	Init   InitFunc
	Check  CheckFunc
}

// Outcome summarises one dispatch.
type Outcome struct {
	Blocked bool
	Verdict check.Verdict
	Hook    string
	Ran     int
}

type Option func(*Registry)

// WithDropObserver is notified whenever a registration is dropped.
func WithDropObserver(fn func(p Priority, name string)) Option {
	return func(r *Registry) {
		r.onDrop = fn
	}
}

type Registry struct {
	tiers   [priorityTotal][]Hook
	dropped atomic.Uint64
	onDrop  func(Priority, string)
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for i := range r.tiers {
		r.tiers[i] = make([]Hook, 0, TierCapacity)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends h to tier p. A full tier or an unknown tier drops the
// registration; the drop is counted and logged.
func (r *Registry) Register(h Hook, p Priority) {
	if p >= priorityTotal || len(r.tiers[p]) >= TierCapacity {
		r.dropped.Add(1)
		log.Warn().Str("hook", h.Name).Stringer("priority", p).Msg("hook registration dropped")
		if r.onDrop != nil {
			r.onDrop(p, h.Name)
		}
		return
	}
	r.tiers[p] = append(r.tiers[p], h)
}

// Dropped counts registrations that did not fit.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// Len returns the number of handlers in tier p.
func (r *Registry) Len(p Priority) int {
	if p >= priorityTotal {
		return 0
	}
	return len(r.tiers[p])
}

// Names lists handler names in dispatch order.
func (r *Registry) Names() []string {
	var names []string
	for p := range r.tiers {
		for _, h := range r.tiers[p] {
			names = append(names, h.Name)
		}
	}
	return names
}

// Init runs every Init function, tier by tier. A failing handler does not
// stop the others; all failures are returned together.
func (r *Registry) Init(ctx context.Context) error {
	var errs []error
	for p := range r.tiers {
		for _, h := range r.tiers[p] {
			if h.Init == nil {
				continue
			}
			if err := h.Init(ctx); err != nil {
				errs = append(errs, fmt.Errorf("init %s: %w", h.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Dispatch runs the handlers for op.Point across all tiers and stops at the
// first blocking verdict.
func (r *Registry) Dispatch(ctx context.Context, op *Operation) Outcome {
	var out Outcome
	for p := PriorityFirst; p < priorityTotal; p++ {
		tier := r.DispatchTier(ctx, p, op)
		out.Ran += tier.Ran
		if tier.Blocked {
			tier.Ran = out.Ran
			return tier
		}
	}
	return out
}

// DispatchTier runs the handlers of a single tier.
func (r *Registry) DispatchTier(ctx context.Context, p Priority, op *Operation) Outcome {
	var out Outcome
	if p >= priorityTotal {
		return out
	}

	for _, h := range r.tiers[p] {
		if h.Check == nil || !slices.Contains(h.Points, op.Point) {
			continue
		}
		out.Ran++

		v := runCheck(ctx, h, op)
		if v.Blocks() {
			out.Blocked = true
			out.Verdict = v
			out.Hook = h.Name
			return out
		}
	}
	return out
}

// runCheck isolates the dispatcher from a panicking handler. A handler
// that panics is treated as having nothing to report.
func runCheck(ctx context.Context, h Hook, op *Operation) (v check.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("hook", h.Name).Interface("panic", rec).Msg("hook handler panicked")
			v = check.Continue
		}
	}()

	return h.Check(ctx, op)
}
