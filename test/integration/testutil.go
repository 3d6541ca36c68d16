package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagbolade/rasp-agent/internal/agent"
	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/dagbolade/rasp-agent/internal/metrics"
	"github.com/dagbolade/rasp-agent/internal/policy"
	"github.com/dagbolade/rasp-agent/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// SQLGuard blocks UNION based injections.
const SQLGuard = `
function check(check_type, params, context)
  if check_type == "sql" and string.find(string.upper(params.query), "UNION", 1, true) then
    return {action = "block", message = "union based injection", confidence = 90}
  end
  return "ignore"
end
`

// FileGuard blocks reads of anything called secret.
const FileGuard = `
function check(check_type, params, context)
  if check_type == "readFile" and string.find(params.realpath, "secret", 1, true) then
    return {action = "block", message = "sensitive file read"}
  end
  return "ignore"
end
`

// TestEnvironment is a complete agent wired the way serve wires it, with
// plugins, config and audit database in a temporary directory.
type TestEnvironment struct {
	Agent      *agent.Agent
	Config     *config.Store
	Policy     *policy.Engine
	AuditStore *audit.SQLiteStore
	Sink       *audit.AsyncSink
	Metrics    *metrics.Collector
	HTTPServer *httptest.Server
	PluginDir  string
	WebRoot    string
	ConfigPath string
	DBPath     string
	t          *testing.T
}

// SetupTestEnvironment writes yaml as the config file, loads the given
// Lua plugins and starts the HTTP surface.
func SetupTestEnvironment(t *testing.T, yaml string, plugins map[string]string) *TestEnvironment {
	t.Helper()

	tmpDir := t.TempDir()
	env := &TestEnvironment{
		PluginDir:  filepath.Join(tmpDir, "plugins"),
		WebRoot:    filepath.Join(tmpDir, "www"),
		ConfigPath: filepath.Join(tmpDir, "rasp.yaml"),
		DBPath:     filepath.Join(tmpDir, "audit.db"),
		t:          t,
	}

	require.NoError(t, os.MkdirAll(env.PluginDir, 0755))
	require.NoError(t, os.MkdirAll(env.WebRoot, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.WebRoot, "index.html"), []byte("welcome"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(env.WebRoot, "secret.txt"), []byte("s3cr3t"), 0600))

	for name, src := range plugins {
		env.WritePlugin(name, src)
	}

	full := fmt.Sprintf("plugin:\n  dir: %s\n  engine: lua\naudit:\n  db_path: %s\n%s", env.PluginDir, env.DBPath, yaml)
	require.NoError(t, os.WriteFile(env.ConfigPath, []byte(full), 0644))

	store, err := config.Open(env.ConfigPath)
	require.NoError(t, err)
	env.Config = store

	engine, err := policy.NewEngine(env.PluginDir, policy.KindLua)
	require.NoError(t, err)
	env.Policy = engine

	auditStore, err := audit.NewSQLiteStore(env.DBPath)
	require.NoError(t, err)
	env.AuditStore = auditStore

	env.Metrics = metrics.NewCollector(prometheus.NewRegistry())
	env.Sink = audit.NewAsyncSink(auditStore, 64, audit.WithDropHandler(func(audit.Alarm) {
		env.Metrics.AlarmDropped()
	}))

	env.Agent = agent.New(store,
		agent.WithPolicy(engine),
		agent.WithSink(env.Sink),
		agent.WithMetrics(env.Metrics),
	)
	require.NoError(t, env.Agent.Init(context.Background()))

	env.HTTPServer = httptest.NewServer(server.New(env.Agent, auditStore, nil).Handler())

	t.Cleanup(func() {
		env.HTTPServer.Close()
		env.Agent.Close()
		env.Sink.Close()
		env.AuditStore.Close()
		env.Policy.Close()
		env.Config.Close()
	})

	return env
}

// WritePlugin writes a Lua plugin into the plugin directory.
func (e *TestEnvironment) WritePlugin(name, src string) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(filepath.Join(e.PluginDir, name+".lua"), []byte(src), 0644))
}

// BaseURL returns the base URL of the test HTTP server
func (e *TestEnvironment) BaseURL() string {
	return e.HTTPServer.URL
}

// HTTPClient does not follow redirects so that block redirects are visible.
func (e *TestEnvironment) HTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Get issues a GET with the given Accept header.
func (e *TestEnvironment) Get(path, accept string) *http.Response {
	e.t.Helper()

	req, err := http.NewRequest(http.MethodGet, e.BaseURL()+path, nil)
	require.NoError(e.t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := e.HTTPClient().Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// WaitForAuditEntries waits for audit entries to be written
func (e *TestEnvironment) WaitForAuditEntries(minCount int, timeout time.Duration) ([]audit.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for audit entries")
		case <-ticker.C:
			entries, err := e.AuditStore.GetAll(context.Background())
			if err != nil {
				return nil, err
			}
			if len(entries) >= minCount {
				return entries, nil
			}
		}
	}
}
