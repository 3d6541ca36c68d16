// Package checkcache bounds the cost of repeated security checks.
//
// A Cache combines two things: a suppression mask consulted before any
// check runs, and an LRU memo of verdicts keyed by input fingerprint and
// check type. A Cache belongs to one worker and is not safe for concurrent
// use; hosts sharing one across goroutines must serialise Reset themselves.
package checkcache

import (
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Key identifies a memoised verdict.
type Key struct {
	Fingerprint string
	Type        check.Type
}

// Observer receives cache events, typically to feed metrics.
type Observer interface {
	CacheHit(t check.Type)
	CacheMiss(t check.Type)
	CacheEvicted()
}

type nopObserver struct{}

func (nopObserver) CacheHit(check.Type)  {}
func (nopObserver) CacheMiss(check.Type) {}
func (nopObserver) CacheEvicted()        {}

type Option func(*Cache)

func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

type Cache struct {
	whitelist check.Mask
	ignored   check.Mask
	active    bool

	capacity int
	lru      *simplelru.LRU[Key, check.Verdict]
	observer Observer
}

// New returns an inactive cache holding at most capacity verdicts. A
// capacity of zero or less disables memoisation.
func New(capacity int, opts ...Option) *Cache {
	c := &Cache{observer: nopObserver{}}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset(capacity)
	return c
}

// IsSuppressed reports whether checks of type t must be skipped: the type is
// whitelisted for the current target, statically ignored, or no request is
// being processed.
func (c *Cache) IsSuppressed(t check.Type) bool {
	if !c.active {
		return true
	}
	return c.whitelist.Has(t) || c.ignored.Has(t)
}

// SetWhitelist replaces the policy whitelist for the current request.
func (c *Cache) SetWhitelist(m check.Mask) {
	c.whitelist = m
}

// SetIgnored replaces the static always-ignore mask.
func (c *Cache) SetIgnored(m check.Mask) {
	c.ignored = m
}

// Mask returns the effective suppression mask.
func (c *Cache) Mask() check.Mask {
	return c.whitelist | c.ignored
}

// Activate marks the start of request processing.
func (c *Cache) Activate() {
	c.active = true
}

// Deactivate marks the end of request processing and clears the per-request
// masks. Memoised verdicts survive.
func (c *Cache) Deactivate() {
	c.active = false
	c.whitelist = 0
	c.ignored = 0
}

func (c *Cache) Active() bool {
	return c.active
}

// Get returns the memoised verdict for (fingerprint, t) and promotes it to
// most recently used.
func (c *Cache) Get(fingerprint string, t check.Type) (check.Verdict, bool) {
	if c.lru == nil {
		c.observer.CacheMiss(t)
		return check.Verdict{}, false
	}

	v, ok := c.lru.Get(Key{Fingerprint: fingerprint, Type: t})
	if ok {
		c.observer.CacheHit(t)
	} else {
		c.observer.CacheMiss(t)
	}
	return v, ok
}

// Put memoises v, evicting the least recently used entry when full.
func (c *Cache) Put(fingerprint string, t check.Type, v check.Verdict) {
	if c.lru == nil {
		return
	}
	if evicted := c.lru.Add(Key{Fingerprint: fingerprint, Type: t}, v); evicted {
		c.observer.CacheEvicted()
	}
}

// Reset discards every memoised verdict and sets a new capacity.
func (c *Cache) Reset(capacity int) {
	c.capacity = capacity
	c.lru = nil
	if capacity <= 0 {
		return
	}

	lru, err := simplelru.NewLRU[Key, check.Verdict](capacity, nil)
	if err != nil {
		return
	}
	c.lru = lru
}

func (c *Cache) Capacity() int {
	return c.capacity
}

func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Keys lists memoised keys from least to most recently used.
func (c *Cache) Keys() []Key {
	if c.lru == nil {
		return nil
	}
	return c.lru.Keys()
}
