package checks

import (
	"context"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
)

const writeIntents = pathpolicy.Write | pathpolicy.Append | pathpolicy.SimultaneousRW

// resolve maps the operation's resource through the path policy. Paths the
// policy rejects are not checked.
func (h *handlers) resolve(res *hook.Resource, path string, intents pathpolicy.Intent) (string, bool) {
	if res == nil || path == "" {
		return "", false
	}
	return h.Paths.Resolve(path, res.UseIncludePath, intents)
}

func (h *handlers) include(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	if res == nil {
		return check.Continue
	}
	realpath, ok := h.resolve(res, res.Path, pathpolicy.Read)
	if !ok {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Include, pathpolicy.Read.String()+realpath, map[string]any{
		"url":      res.Path,
		"realpath": realpath,
		"function": op.Operand("function"),
	})
}

func (h *handlers) fileOpen(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	if res == nil {
		return check.Continue
	}
	intents := res.Intents
	if intents == 0 {
		intents = pathpolicy.Read
	}

	realpath, ok := h.resolve(res, res.Path, intents)
	if !ok {
		return check.Continue
	}

	t := check.ReadFile
	if intents.Has(writeIntents) {
		t = check.WriteFile
	}

	return h.evaluate(ctx, op, t, intents.String()+realpath, map[string]any{
		"path":     res.Path,
		"realpath": realpath,
		"function": op.Operand("function"),
	})
}

func (h *handlers) unlink(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	realpath, ok := h.resolve(res, pathOf(res), pathpolicy.Unlink)
	if !ok {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Unlink, "", map[string]any{
		"path":     res.Path,
		"realpath": realpath,
	})
}

func (h *handlers) rename(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	source, ok := h.resolve(res, pathOf(res), pathpolicy.RenameSrc)
	if !ok {
		return check.Continue
	}
	dest, ok := h.resolve(res, res.Dest, pathpolicy.RenameDest)
	if !ok {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Rename, "", map[string]any{
		"source": source,
		"dest":   dest,
	})
}

func (h *handlers) openDir(ctx context.Context, op *hook.Operation) check.Verdict {
	res := op.Resource
	realpath, ok := h.resolve(res, pathOf(res), pathpolicy.OpenDir)
	if !ok {
		return check.Continue
	}

	return h.evaluate(ctx, op, check.Directory, pathpolicy.OpenDir.String()+realpath, map[string]any{
		"path":     res.Path,
		"realpath": realpath,
	})
}

func pathOf(res *hook.Resource) string {
	if res == nil {
		return ""
	}
	return res.Path
}
