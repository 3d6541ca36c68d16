package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/checkcache"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ checkcache.Observer = (*Collector)(nil)

func TestHookDrops(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	r := hook.NewRegistry(hook.WithDropObserver(c.HookDropped))

	for i := 0; i < hook.TierCapacity+3; i++ {
		r.Register(hook.Hook{Name: "h"}, hook.PriorityLast)
	}

	if got := testutil.ToFloat64(c.hookDrops.WithLabelValues("last")); got != 3 {
		t.Errorf("expected 3 dropped registrations, got %v", got)
	}
}

func TestCacheObserver(t *testing.T) {
	c := NewCollector(nil)
	cache := checkcache.New(1, checkcache.WithObserver(c))
	cache.Activate()

	cache.Get("select 1", check.SQL)
	cache.Put("select 1", check.SQL, check.Continue)
	cache.Get("select 1", check.SQL)
	cache.Put("select 2", check.SQL, check.Continue)

	if got := testutil.ToFloat64(c.cacheHits.WithLabelValues("sql")); got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses.WithLabelValues("sql")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(c.cacheEvictions); got != 1 {
		t.Errorf("expected 1 eviction, got %v", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	c := NewCollector(nil)
	c.CheckEvaluated(check.Verdict{Type: check.Include, Action: check.ActionBlock})
	c.RequestBlocked(check.Include)
	c.AlarmDropped()
	c.RequestStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`rasp_checks_total{action="block",check_type="include"} 1`,
		`rasp_blocked_requests_total{check_type="include"} 1`,
		`rasp_alarms_dropped_total 1`,
		`rasp_requests_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
