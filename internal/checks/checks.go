// Package checks holds the built-in handlers registered into the hook
// registry. Each handler extracts the operation's material, consults the
// suppression mask and verdict cache, asks the policy engine for a verdict
// and reports anything worth reporting.
package checks

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/config"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/policy"
	"github.com/dagbolade/rasp-agent/internal/request"
	"github.com/spf13/afero"
)

// Evaluator is the policy engine as seen by the handlers.
type Evaluator interface {
	Check(ctx context.Context, t check.Type, req policy.Request) check.Verdict
}

// Recorder counts evaluated checks.
type Recorder interface {
	CheckEvaluated(v check.Verdict)
}

type nopRecorder struct{}

func (nopRecorder) CheckEvaluated(check.Verdict) {}

type Deps struct {
	Policy  Evaluator
	Paths   *pathpolicy.Resolver
	Sink    audit.Sink
	Config  func() *config.Config
	Metrics Recorder
	// Fs is walked by the webroot scan.
	Fs afero.Fs
}

// Register installs the built-in handlers and returns the webroot scanner
// so the caller can stop its schedule.
func Register(reg *hook.Registry, deps Deps) *WebdirScanner {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Sink == nil {
		deps.Sink = audit.LogSink{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	h := &handlers{Deps: deps}

	scanner := NewWebdirScanner(deps.Fs, deps.Sink, deps.Config)
	reg.Register(hook.Hook{
		Name: "webdir",
		Type: check.PolicyAlarm,
		Init: scanner.Init,
	}, hook.PriorityFirst)

	for _, hk := range []hook.Hook{
		{Name: "sql_exception", Type: check.SQLException, Points: []hook.Point{hook.PointSQLError}, Check: h.sqlException},
		{Name: "webshell_eval", Type: check.WebshellEval, Points: []hook.Point{hook.PointEval}, Check: h.webshellEval},
		{Name: "webshell_command", Type: check.WebshellCommand, Points: []hook.Point{hook.PointCommand}, Check: h.webshellCommand},
		{Name: "webshell_file_put_contents", Type: check.WebshellFilePut, Points: []hook.Point{hook.PointFileOpen}, Check: h.webshellFilePut},
		{Name: "webshell_callable", Type: check.WebshellCallable, Points: []hook.Point{hook.PointCallable}, Check: h.webshellCallable},
		{Name: "webshell_ld_preload", Type: check.WebshellLDPreload, Points: []hook.Point{hook.PointPutenv}, Check: h.ldPreload},
		{Name: "callable", Type: check.Callable, Points: []hook.Point{hook.PointCallable}, Check: h.callable},
	} {
		reg.Register(hk, hook.PriorityFirst)
	}

	for _, hk := range []hook.Hook{
		{Name: "sql", Type: check.SQL, Points: []hook.Point{hook.PointSQL}, Check: h.sql},
		{Name: "command", Type: check.Command, Points: []hook.Point{hook.PointCommand}, Check: h.command},
		{Name: "include", Type: check.Include, Points: []hook.Point{hook.PointInclude}, Check: h.include},
		{Name: "eval", Type: check.Eval, Points: []hook.Point{hook.PointEval}, Check: h.eval},
		{Name: "file", Type: check.ReadFile, Points: []hook.Point{hook.PointFileOpen}, Check: h.fileOpen},
		{Name: "unlink", Type: check.Unlink, Points: []hook.Point{hook.PointUnlink}, Check: h.unlink},
		{Name: "rename", Type: check.Rename, Points: []hook.Point{hook.PointRename}, Check: h.rename},
		{Name: "directory", Type: check.Directory, Points: []hook.Point{hook.PointOpenDir}, Check: h.openDir},
		{Name: "ssrf", Type: check.SSRF, Points: []hook.Point{hook.PointHTTP}, Check: h.ssrf},
	} {
		reg.Register(hk, hook.PriorityNormal)
	}

	reg.Register(hook.Hook{
		Name:   "xss_userinput",
		Type:   check.XSSUserInput,
		Points: []hook.Point{hook.PointEcho},
		Check:  h.xssUserInput,
	}, hook.PriorityLast)
	reg.Register(hook.Hook{
		Name:   "xss_echo",
		Type:   check.XSSEcho,
		Points: []hook.Point{hook.PointEcho},
		Check:  h.echo,
	}, hook.PriorityLast)

	return scanner
}

type handlers struct {
	Deps
}

// evaluate runs one check. An empty fingerprint disables memoisation.
// Only ignore verdicts are memoised: a verdict that logs or blocks must be
// reported every time it fires.
func (h *handlers) evaluate(ctx context.Context, op *hook.Operation, t check.Type, fingerprint string, params map[string]any) check.Verdict {
	rc := op.Request
	if rc == nil || rc.Cache().IsSuppressed(t) {
		return check.Continue
	}

	info := rc.Info()
	reqCtx := policy.Info{
		RequestID:  info.ID,
		URL:        info.URL,
		Method:     info.Method,
		RemoteAddr: info.RemoteAddr,
	}

	cache := rc.Cache()
	key := memoKey(fingerprint, reqCtx)
	if key != "" {
		if v, ok := cache.Get(key, t); ok {
			return v
		}
		// a memoised verdict is replayed for other requests
		reqCtx.RequestID = ""
	}

	v := h.Policy.Check(ctx, t, policy.Request{
		Point:   string(op.Point),
		Params:  params,
		Context: reqCtx,
	})
	v.Type = t
	if v.Reportable() && slices.Contains(check.Builtin(), t) {
		v.Action = h.Config().BuiltinAction(t)
	}
	h.Metrics.CheckEvaluated(v)

	if v.Action == check.ActionIgnore {
		if key != "" {
			cache.Put(key, t, v)
		}
		return v
	}

	h.report(ctx, rc, v, params)
	return v
}

// memoKey extends an operation fingerprint with the request fields the
// policy sees, so a memoised verdict only answers the same question. The
// request id is unique per request and is withheld from memoisable
// evaluations instead.
func memoKey(fingerprint string, info policy.Info) string {
	if fingerprint == "" {
		return ""
	}
	return strings.Join([]string{fingerprint, info.Method, info.URL, info.RemoteAddr}, "\x00")
}

// report sends an attack alarm attributed to the request field that
// supplied one of the operation's string parameters.
func (h *handlers) report(ctx context.Context, rc *request.Context, v check.Verdict, params map[string]any) {
	info := rc.Info()

	var raw json.RawMessage
	for _, key := range slices.Sorted(maps.Keys(params)) {
		raw = audit.WithParam(raw, key, params[key])
	}

	alarm := audit.Alarm{
		RequestID:  info.ID,
		Kind:       audit.KindAttack,
		CheckType:  v.Type.String(),
		Action:     v.Action.String(),
		Plugin:     v.Name,
		Message:    v.Message,
		Confidence: v.Confidence,
		URL:        info.URL,
		Params:     raw,
	}
	if alarm.Message == "" {
		alarm.Message = v.Type.String() + " check reported " + v.Action.String()
	}

	for _, key := range slices.Sorted(maps.Keys(params)) {
		s, ok := params[key].(string)
		if !ok || s == "" {
			continue
		}
		if p, found := rc.Params().Attribute(s); found {
			alarm.Source = p.Collection + "." + p.Field
			alarm.Params = audit.WithParam(alarm.Params, "source", map[string]string{
				"param":      key,
				"collection": p.Collection,
				"name":       p.Field,
			})
			break
		}
	}

	h.Sink.Report(ctx, alarm)
}
