// Package agent assembles the RASP core into one service object.
//
// An Agent is built once at process start and shared by every worker. It
// owns the hook registry, the block engine, the path resolver and the
// configuration store; all of them are read-only after Init apart from the
// configuration snapshot, which reloads atomically. Request state lives in
// a Worker, which the host reuses across requests.
package agent

import (
	"context"
	"fmt"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/checks"
	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/dagbolade/rasp-agent/internal/metrics"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Option func(*Agent)

// WithFs sets the filesystem used by path resolution and the webroot scan.
func WithFs(fs afero.Fs) Option {
	return func(a *Agent) {
		a.fs = fs
	}
}

// WithWrappers sets the stream handlers the host supports.
func WithWrappers(w pathpolicy.Wrappers) Option {
	return func(a *Agent) {
		a.wrappers = w
	}
}

func WithSink(s audit.Sink) Option {
	return func(a *Agent) {
		a.sink = s
	}
}

func WithPolicy(p checks.Evaluator) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

type Agent struct {
	config   *config.Store
	hooks    *hook.Registry
	blocker  *block.Engine
	paths    *pathpolicy.Resolver
	metrics  *metrics.Collector
	sink     audit.Sink
	policy   checks.Evaluator
	webdir   *checks.WebdirScanner
	fs       afero.Fs
	wrappers pathpolicy.Wrappers
}

// New builds the agent and registers the built-in checks.
func New(store *config.Store, opts ...Option) *Agent {
	a := &Agent{config: store}
	for _, opt := range opts {
		opt(a)
	}

	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewCollector(nil)
	}
	if a.sink == nil {
		a.sink = audit.LogSink{}
	}
	if a.policy == nil {
		a.policy = policy.NewStaticEngine(nil)
	}

	a.hooks = hook.NewRegistry(hook.WithDropObserver(a.metrics.HookDropped))
	a.blocker = block.NewEngine(func() block.Config {
		return a.config.Get().BlockConfig()
	})
	a.paths = pathpolicy.NewResolver(a.fs, a.wrappers, func() pathpolicy.Config {
		return a.config.Get().PathConfig()
	})

	a.webdir = checks.Register(a.hooks, checks.Deps{
		Policy:  a.policy,
		Paths:   a.paths,
		Sink:    a.sink,
		Config:  a.config.Get,
		Metrics: a.metrics,
		Fs:      a.fs,
	})

	return a
}

// Init runs the module-initialisation handlers.
func (a *Agent) Init(ctx context.Context) error {
	if err := a.hooks.Init(ctx); err != nil {
		return fmt.Errorf("init hooks: %w", err)
	}
	log.Info().Strs("hooks", a.hooks.Names()).Uint64("dropped", a.hooks.Dropped()).Msg("rasp agent initialised")
	return nil
}

// Close stops background work started by Init.
func (a *Agent) Close() {
	a.webdir.Stop()
}

func (a *Agent) Config() *config.Config {
	return a.config.Get()
}

func (a *Agent) Hooks() *hook.Registry {
	return a.hooks
}

func (a *Agent) Paths() *pathpolicy.Resolver {
	return a.paths
}

// Fs is the filesystem checks resolve paths against.
func (a *Agent) Fs() afero.Fs {
	return a.fs
}

func (a *Agent) Metrics() *metrics.Collector {
	return a.metrics
}

func (a *Agent) Webdir() *checks.WebdirScanner {
	return a.webdir
}
