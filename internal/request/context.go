// Package request holds the state scoped to one inbound request.
package request

import (
	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/checkcache"
	"github.com/dagbolade/rasp-agent/internal/correlation"
	"github.com/google/uuid"
)

// Info describes the inbound request as seen by the host.
type Info struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Method     string `json:"method,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Accept     string `json:"-"`
}

// Context is the per-request state of a worker. A worker owns one Context
// for its whole life and must call Begin and End around every request so
// that identities, masks and state never leak between requests. The
// verdict cache deliberately outlives requests.
type Context struct {
	info       Info
	cache      *checkcache.Cache
	params     *correlation.Registry
	processing bool
	blocking   bool
	abort      *block.Abort
}

func NewContext(cacheCapacity int, opts ...checkcache.Option) *Context {
	return &Context{
		cache:  checkcache.New(cacheCapacity, opts...),
		params: correlation.NewRegistry(),
	}
}

// Begin starts a request: assigns an id when the host gave none and
// rebuilds the correlation table from the request parameter collections.
func (c *Context) Begin(info Info, collections ...correlation.Collection) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	c.info = info
	c.blocking = false
	c.abort = nil
	c.params.Build(collections...)
	c.processing = true
}

// End finishes the request and drops everything request scoped.
func (c *Context) End() {
	c.processing = false
	c.blocking = false
	c.abort = nil
	c.params.Reset()
	c.cache.Deactivate()
	c.info = Info{}
}

func (c *Context) ID() string {
	return c.info.ID
}

func (c *Context) URL() string {
	return c.info.URL
}

func (c *Context) Info() Info {
	return c.info
}

func (c *Context) Cache() *checkcache.Cache {
	return c.cache
}

func (c *Context) Params() *correlation.Registry {
	return c.params
}

// InProgress reports whether the context is between Begin and End.
func (c *Context) InProgress() bool {
	return c.processing
}

// EnterBlock marks the request as being terminated. It returns false when a
// block is already under way, e.g. a check fired while the block page is
// being written.
func (c *Context) EnterBlock() bool {
	if c.blocking {
		return false
	}
	c.blocking = true
	return true
}

func (c *Context) Blocking() bool {
	return c.blocking
}

// SetAbort records the abort delivered when the block page was written.
func (c *Context) SetAbort(a *block.Abort) {
	c.abort = a
}

// Abort returns the abort of a blocked request, or nil while the request
// may still run or the block page is being written.
func (c *Context) Abort() *block.Abort {
	return c.abort
}
