// Package block terminates a request that a check decided to block.
//
// OnBlock replaces whatever the application produced with the configured
// block response and returns an *Abort. The abort is not an ordinary
// error: every frame that receives it must return it unchanged so the host
// stops executing the request. All response work is finished before the
// abort is returned.
package block

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultPlaceholder is replaced by the request id in redirect targets and
// block bodies.
const DefaultPlaceholder = "%request_id%"

// ErrAborted matches every *Abort.
var ErrAborted = errors.New("request aborted")

// Abort is the terminal result of a blocked request.
type Abort struct {
	RequestID string
	Status    int
	Reason    string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("request %s aborted with status %d: %s", a.RequestID, a.Status, a.Reason)
}

func (a *Abort) Is(target error) bool {
	return target == ErrAborted
}

// IsAbort reports whether err carries a block abort.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}

// Response is the host's response surface.
type Response interface {
	// HeadersSent reports whether the status line and headers already left.
	HeadersSent() bool
	// DiscardOutput drops buffered, unsent output.
	DiscardOutput()
	SetStatus(code int)
	// Header returns the queued response headers.
	Header() http.Header
	Write(p []byte) (int, error)
	// Flush sends the status, headers and buffered output.
	Flush() error
}

// Config is the block page policy.
type Config struct {
	StatusCode  int
	RedirectURL string
	Placeholder string
	ContentJSON string
	ContentXML  string
	ContentHTML string
}

func (c Config) placeholder() string {
	if c.Placeholder == "" {
		return DefaultPlaceholder
	}
	return c.Placeholder
}

// body returns the configured page for content family t.
func (c Config) body(t ContentType) string {
	switch t {
	case ContentJSON:
		return c.ContentJSON
	case ContentXML, ContentTextXML:
		return c.ContentXML
	default:
		return c.ContentHTML
	}
}

// Inbound carries what the engine needs to know about the request.
type Inbound struct {
	RequestID string
	Accept    string
	Reason    string
}

type Engine struct {
	config func() Config
}

// NewEngine returns an engine reading its policy from config on every block.
func NewEngine(config func() Config) *Engine {
	return &Engine{config: config}
}

// OnBlock emits the block response for in with the given status and
// returns the abort the caller must propagate.
func (e *Engine) OnBlock(resp Response, in Inbound, status int) *Abort {
	abort := &Abort{RequestID: in.RequestID, Status: status, Reason: in.Reason}
	if resp.HeadersSent() {
		return abort
	}

	cfg := e.config()
	placeholder := cfg.placeholder()

	resp.DiscardOutput()
	resp.SetStatus(status)
	if status >= 300 && status < 400 {
		resp.Header().Set("Location", Substitute(cfg.RedirectURL, placeholder, in.RequestID))
	}

	kind := ClassifyContentType(resp.Header().Get("Content-Type"))
	if kind == ContentUnknown {
		kind = ClassifyAccept(in.Accept)
	}

	page := cfg.body(kind)
	if page == "" {
		return abort
	}

	resp.Header().Set("Content-Type", kind.MIME())
	if _, err := resp.Write([]byte(Substitute(page, placeholder, in.RequestID))); err == nil {
		_ = resp.Flush()
	}
	return abort
}

// Substitute replaces every occurrence of placeholder in template with id.
func Substitute(template, placeholder, id string) string {
	if placeholder == "" {
		return template
	}
	return strings.ReplaceAll(template, placeholder, id)
}
