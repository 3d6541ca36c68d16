package server

import (
	"bytes"
	"errors"
	"net/http"
	"sort"

	"github.com/dagbolade/rasp-agent/internal/agent"
	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/correlation"
	"github.com/dagbolade/rasp-agent/internal/request"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// protect runs the wrapped handler inside a request of a pooled worker.
// Output is buffered until the handler returns so that a block can still
// replace it.
func (s *Server) protect(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		w := s.workers.Get().(*agent.Worker)
		defer s.workers.Put(w)

		req := c.Request()
		res := c.Response()
		buf := newBufferedWriter(res.Writer)
		res.Writer = buf

		w.Begin(requestInfo(c), blockSurface{buf}, collections(c)...)
		defer w.End()

		c.SetRequest(req.WithContext(agent.WithWorker(req.Context(), w)))

		err := next(c)

		var abort *block.Abort
		switch {
		case errors.As(err, &abort):
			if buf.HeadersSent() {
				buf.DiscardOutput()
			}
			res.Status = abort.Status
			res.Committed = true
		case err != nil:
			c.Error(err)
		}

		if err := buf.commit(); err != nil {
			log.Error().Err(err).Str("request_id", w.Request().ID()).Msg("failed to write response")
		}
		return nil
	}
}

func requestInfo(c echo.Context) request.Info {
	req := c.Request()
	return request.Info{
		ID:         c.Response().Header().Get(echo.HeaderXRequestID),
		URL:        req.Host + req.URL.RequestURI(),
		Method:     req.Method,
		RemoteAddr: c.RealIP(),
		Accept:     req.Header.Get(echo.HeaderAccept),
	}
}

// collections maps the query string, the posted form and the cookies to
// the parameter collections used for attribution.
func collections(c echo.Context) []correlation.Collection {
	out := []correlation.Collection{fromValues(correlation.CollectionGet, c.QueryParams())}

	req := c.Request()
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		if _, err := c.FormParams(); err == nil {
			out = append(out, fromValues(correlation.CollectionPost, req.PostForm))
		}
	}

	cookies := correlation.Collection{Name: correlation.CollectionCookie}
	for _, cookie := range c.Cookies() {
		cookies.Entries = append(cookies.Entries, correlation.Entry{Key: cookie.Name, Value: cookie.Value})
	}
	return append(out, cookies)
}

func fromValues(name string, values map[string][]string) correlation.Collection {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	col := correlation.Collection{Name: name}
	for _, k := range keys {
		for _, v := range values[k] {
			col.Entries = append(col.Entries, correlation.Entry{Key: k, Value: v})
		}
	}
	return col
}

// bufferedWriter holds the status and body back until commit. A handler
// that flushes explicitly commits early; after that the response can no
// longer be replaced.
type bufferedWriter struct {
	dst    http.ResponseWriter
	status int
	buf    bytes.Buffer
	sent   bool
}

func newBufferedWriter(dst http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{dst: dst}
}

func (b *bufferedWriter) Header() http.Header {
	return b.dst.Header()
}

func (b *bufferedWriter) WriteHeader(code int) {
	if !b.sent {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.sent {
		return b.dst.Write(p)
	}
	return b.buf.Write(p)
}

// Flush implements http.Flusher for streaming handlers.
func (b *bufferedWriter) Flush() {
	if err := b.commit(); err != nil {
		log.Debug().Err(err).Msg("flush failed")
	}
}

func (b *bufferedWriter) HeadersSent() bool {
	return b.sent
}

func (b *bufferedWriter) DiscardOutput() {
	b.buf.Reset()
}

func (b *bufferedWriter) SetStatus(code int) {
	b.status = code
}

func (b *bufferedWriter) commit() error {
	if !b.sent {
		b.sent = true
		status := b.status
		if status == 0 {
			status = http.StatusOK
		}
		b.dst.WriteHeader(status)
	}

	if b.buf.Len() > 0 {
		_, err := b.dst.Write(b.buf.Bytes())
		b.buf.Reset()
		if err != nil {
			return err
		}
	}

	if f, ok := b.dst.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// blockSurface is the view of a bufferedWriter handed to the block engine.
type blockSurface struct {
	*bufferedWriter
}

func (s blockSurface) Flush() error {
	return s.commit()
}
