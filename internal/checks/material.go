package checks

import (
	"context"
	"net/url"
	"strings"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/hook"
)

func (h *handlers) sql(ctx context.Context, op *hook.Operation) check.Verdict {
	query := op.Operand("query")
	if strings.TrimSpace(query) == "" {
		return check.Continue
	}
	server := op.Operand("server")

	return h.evaluate(ctx, op, check.SQL, server+query, map[string]any{
		"server": server,
		"query":  query,
	})
}

func (h *handlers) command(ctx context.Context, op *hook.Operation) check.Verdict {
	command := op.Operand("command")
	if command == "" {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Command, "", map[string]any{
		"command": command,
	})
}

func (h *handlers) eval(ctx context.Context, op *hook.Operation) check.Verdict {
	code := op.Operand("code")
	if code == "" {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Eval, code, map[string]any{
		"code":     code,
		"function": op.Operand("function"),
	})
}

func (h *handlers) ssrf(ctx context.Context, op *hook.Operation) check.Verdict {
	raw := op.Operand("url")
	if raw == "" {
		return check.Continue
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.SSRF, raw, map[string]any{
		"url":      raw,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"function": op.Operand("function"),
	})
}

// echo is a built-in check: the plugins decide whether output is an
// injection, the configured built-in action decides what happens.
func (h *handlers) echo(ctx context.Context, op *hook.Operation) check.Verdict {
	output := op.Operand("output")
	if !strings.ContainsAny(output, "<>") {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.XSSEcho, output, map[string]any{
		"output": output,
		"type":   op.Operand("type"),
	})
}
