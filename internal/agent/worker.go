package agent

import (
	"context"
	"net/http"

	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/checkcache"
	"github.com/dagbolade/rasp-agent/internal/correlation"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/dagbolade/rasp-agent/internal/request"
	"github.com/rs/zerolog/log"
)

// Worker processes one request at a time. Begin and End must bracket
// every request; a Worker is never shared between goroutines.
type Worker struct {
	agent *Agent
	rc    *request.Context
	resp  block.Response
}

func (a *Agent) NewWorker() *Worker {
	return &Worker{
		agent: a,
		rc:    request.NewContext(a.config.Get().LRU.MaxSize, checkcache.WithObserver(a.metrics)),
	}
}

// Begin starts a request. It rebuilds the correlation table, recomputes
// the suppression mask for the request URL and resizes the verdict cache
// when the configured capacity changed.
func (w *Worker) Begin(info request.Info, resp block.Response, collections ...correlation.Collection) *request.Context {
	cfg := w.agent.config.Get()

	cache := w.rc.Cache()
	if cache.Capacity() != cfg.LRU.MaxSize {
		log.Debug().Int("from", cache.Capacity()).Int("to", cfg.LRU.MaxSize).Msg("resizing check cache")
		cache.Reset(cfg.LRU.MaxSize)
	}

	w.rc.Begin(info, collections...)
	cache.SetWhitelist(cfg.WhitelistMask(info.URL))
	cache.SetIgnored(cfg.IgnoredMask())
	cache.Activate()

	if resp == nil {
		resp = sentResponse{}
	}
	w.resp = resp
	w.agent.metrics.RequestStarted()

	return w.rc
}

// End finishes the request.
func (w *Worker) End() {
	w.rc.End()
	w.resp = nil
}

func (w *Worker) Request() *request.Context {
	return w.rc
}

// Dispatch runs the handlers for op. When a handler blocks, the block
// response is written and an *block.Abort is returned; the caller must
// return it unchanged. Once a request is blocked every later Dispatch
// returns the same abort without running handlers again. Operations
// raised while the block page itself is written pass through.
func (w *Worker) Dispatch(ctx context.Context, op *hook.Operation) error {
	if abort := w.rc.Abort(); abort != nil {
		return abort
	}
	if w.rc.Blocking() {
		return nil
	}
	op.Request = w.rc

	out := w.agent.hooks.Dispatch(ctx, op)
	if !out.Blocked {
		return nil
	}
	return w.block(out)
}

func (w *Worker) block(out hook.Outcome) error {
	if !w.rc.EnterBlock() {
		return nil
	}

	w.agent.metrics.RequestBlocked(out.Verdict.Type)
	info := w.rc.Info()
	status := w.agent.config.Get().Block.StatusCode

	log.Warn().
		Str("request_id", info.ID).
		Str("hook", out.Hook).
		Stringer("check_type", out.Verdict.Type).
		Int("status", status).
		Msg("request blocked")

	abort := w.agent.blocker.OnBlock(w.resp, block.Inbound{
		RequestID: info.ID,
		Accept:    info.Accept,
		Reason:    out.Verdict.Type.String() + ": " + out.Verdict.Message,
	}, status)
	w.rc.SetAbort(abort)
	return abort
}

// sentResponse stands in when the host gave no response surface: nothing
// can be rewritten, so only the abort is delivered.
type sentResponse struct{}

func (sentResponse) HeadersSent() bool           { return true }
func (sentResponse) DiscardOutput()              {}
func (sentResponse) SetStatus(int)               {}
func (sentResponse) Header() http.Header         { return http.Header{} }
func (sentResponse) Write(p []byte) (int, error) { return len(p), nil }
func (sentResponse) Flush() error                { return nil }

type workerKey struct{}

// WithWorker attaches w to ctx for handlers further down the host's stack.
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

func WorkerFrom(ctx context.Context) (*Worker, bool) {
	w, ok := ctx.Value(workerKey{}).(*Worker)
	return w, ok
}
