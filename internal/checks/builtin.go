package checks

import (
	"context"
	"slices"
	"strings"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/hook"
)

// Built-in detections run natively. The policy engine is not consulted;
// the configured built-in action decides between ignore, log and block.

// dangerousCallables are functions that hand their argument to a shell or
// to the interpreter.
var dangerousCallables = []string{
	"system", "exec", "passthru", "shell_exec", "popen", "proc_open", "pcntl_exec", "assert",
}

// sqlErrorCodes are server errors typically raised by a malformed
// injection payload.
var sqlErrorCodes = map[string][]string{
	"mysql":  {"1060", "1064", "1105", "1367", "1690", "1691"},
	"sqlite": {"1"},
	"pgsql":  {"42601", "22P02"},
}

func (h *handlers) native(ctx context.Context, op *hook.Operation, t check.Type, message string, params map[string]any) check.Verdict {
	rc := op.Request
	if rc == nil || rc.Cache().IsSuppressed(t) {
		return check.Continue
	}

	v := check.Verdict{
		Action:     h.Config().BuiltinAction(t),
		Type:       t,
		Name:       "builtin",
		Message:    message,
		Confidence: 90,
	}
	h.Metrics.CheckEvaluated(v)
	if v.Reportable() {
		h.report(ctx, rc, v, params)
	}
	return v
}

// fromRequest reports whether value arrived verbatim as a request
// parameter.
func fromRequest(op *hook.Operation, value string) bool {
	if value == "" || op.Request == nil {
		return false
	}
	params := op.Request.Params()
	return params.Contains(params.IdentityOf(value))
}

func (h *handlers) sqlException(ctx context.Context, op *hook.Operation) check.Verdict {
	server := strings.ToLower(op.Operand("server"))
	code := op.Operand("error_code")
	if !slices.Contains(sqlErrorCodes[server], code) {
		return check.Continue
	}

	return h.native(ctx, op, check.SQLException, server+" error "+code+" while running query", map[string]any{
		"server":     server,
		"query":      op.Operand("query"),
		"error_code": code,
		"error":      op.Operand("error"),
	})
}

func (h *handlers) webshellEval(ctx context.Context, op *hook.Operation) check.Verdict {
	code := op.Operand("code")
	if !fromRequest(op, code) {
		return check.Continue
	}

	return h.native(ctx, op, check.WebshellEval, "code from request parameter evaluated", map[string]any{
		"code":     code,
		"function": op.Operand("function"),
	})
}

func (h *handlers) webshellCommand(ctx context.Context, op *hook.Operation) check.Verdict {
	command := op.Operand("command")
	if !fromRequest(op, command) {
		return check.Continue
	}

	return h.native(ctx, op, check.WebshellCommand, "command from request parameter executed", map[string]any{
		"command": command,
	})
}

// webshellFilePut fires when both the written path and its content come
// from the request.
func (h *handlers) webshellFilePut(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	if res == nil || !res.Intents.Has(writeIntents) {
		return check.Continue
	}
	content := op.Operand("content")
	if !fromRequest(op, res.Path) || !fromRequest(op, content) {
		return check.Continue
	}

	return h.native(ctx, op, check.WebshellFilePut, "file name and content from request parameters written", map[string]any{
		"path":     res.Path,
		"content":  content,
		"function": op.Operand("function"),
	})
}

func (h *handlers) webshellCallable(ctx context.Context, op *hook.Operation) check.Verdict {
	fn := op.Operand("function")
	if !isDangerousCallable(fn) || !fromRequest(op, fn) {
		return check.Continue
	}

	return h.native(ctx, op, check.WebshellCallable, "callable "+fn+" from request parameter invoked", map[string]any{
		"function": fn,
	})
}

func (h *handlers) callable(ctx context.Context, op *hook.Operation) check.Verdict {
	fn := op.Operand("function")
	if !isDangerousCallable(fn) {
		return check.Continue
	}

	return h.native(ctx, op, check.Callable, "dangerous callable "+fn+" invoked", map[string]any{
		"function": fn,
	})
}

func (h *handlers) ldPreload(ctx context.Context, op *hook.Operation) check.Verdict {
	setting := op.Operand("setting")
	name, value, ok := strings.Cut(setting, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "LD_PRELOAD") {
		return check.Continue
	}
	if !fromRequest(op, setting) && !fromRequest(op, value) {
		return check.Continue
	}

	return h.native(ctx, op, check.WebshellLDPreload, "LD_PRELOAD set from request parameter", map[string]any{
		"setting": setting,
	})
}

// xssUserInput fires when a request parameter carrying markup is echoed
// unchanged.
func (h *handlers) xssUserInput(ctx context.Context, op *hook.Operation) check.Verdict {
	output := op.Operand("output")
	if !strings.ContainsAny(output, "<>") || !fromRequest(op, output) {
		return check.Continue
	}

	return h.native(ctx, op, check.XSSUserInput, "request parameter with markup echoed", map[string]any{
		"output": output,
		"type":   op.Operand("type"),
	})
}

func isDangerousCallable(fn string) bool {
	fn = strings.ToLower(strings.TrimPrefix(fn, "\\"))
	return slices.Contains(dangerousCallables, fn)
}
