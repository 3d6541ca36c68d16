// Package metrics exposes the agent's operability counters.
package metrics

import (
	"net/http"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rasp"

// Collector owns the agent's counters and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	hookDrops      *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	checks         *prometheus.CounterVec
	blocks         *prometheus.CounterVec
	alarmDrops     prometheus.Counter
	requests       prometheus.Counter
}

// NewCollector registers the counters with registry, or with a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		hookDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_registrations_dropped_total",
			Help:      "Hook registrations dropped because the tier was full",
		}, []string{"priority"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check_cache",
			Name:      "hits_total",
			Help:      "Check verdicts served from the per-worker cache",
		}, []string{"check_type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check_cache",
			Name:      "misses_total",
			Help:      "Check cache lookups that had to evaluate",
		}, []string{"check_type"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check_cache",
			Name:      "evictions_total",
			Help:      "Least recently used verdicts evicted",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Checks evaluated by type and resulting action",
		}, []string{"check_type", "action"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_requests_total",
			Help:      "Requests terminated with a block response",
		}, []string{"check_type"}),
		alarmDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_dropped_total",
			Help:      "Alarms dropped because the audit queue was full",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed by the agent",
		}),
	}

	registry.MustRegister(
		c.hookDrops,
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		c.checks,
		c.blocks,
		c.alarmDrops,
		c.requests,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// HookDropped matches hook.WithDropObserver.
func (c *Collector) HookDropped(p hook.Priority, name string) {
	c.hookDrops.WithLabelValues(p.String()).Inc()
}

func (c *Collector) CacheHit(t check.Type) {
	c.cacheHits.WithLabelValues(t.String()).Inc()
}

func (c *Collector) CacheMiss(t check.Type) {
	c.cacheMisses.WithLabelValues(t.String()).Inc()
}

func (c *Collector) CacheEvicted() {
	c.cacheEvictions.Inc()
}

func (c *Collector) CheckEvaluated(v check.Verdict) {
	c.checks.WithLabelValues(v.Type.String(), v.Action.String()).Inc()
}

func (c *Collector) RequestBlocked(t check.Type) {
	c.blocks.WithLabelValues(t.String()).Inc()
}

func (c *Collector) AlarmDropped() {
	c.alarmDrops.Inc()
}

func (c *Collector) RequestStarted() {
	c.requests.Inc()
}
