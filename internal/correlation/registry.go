// Package correlation attributes runtime values to the request fields that
// produced them.
//
// A Registry is rebuilt at the start of every request. Identities are
// minted per build: each Build draws a fresh hash seed, so an identity
// obtained during an earlier request can no longer alias a value of the
// current one. Lookups are for attribution in reports only; a miss means
// "unknown provenance" and is never an error.
package correlation

import (
	"math/rand/v2"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Well-known request parameter collections.
const (
	CollectionPost   = "_POST"
	CollectionGet    = "_GET"
	CollectionCookie = "_COOKIE"
)

// Identity names a runtime value for the lifetime of one build.
type Identity uint64

// Entry is one field of a request parameter collection. Positional entries
// are named by their stringified index.
type Entry struct {
	Key        string
	Index      int64
	Positional bool
	Value      string

	// Identity overrides the value-derived identity when the host tracks
	// values by its own handles.
	Identity Identity
}

// Name returns the field name used for attribution.
func (e Entry) Name() string {
	if e.Positional {
		return strconv.FormatInt(e.Index, 10)
	}
	return e.Key
}

// Collection is a named set of request parameters such as _GET.
type Collection struct {
	Name    string
	Entries []Entry
}

// Provenance is the origin of a correlated value.
type Provenance struct {
	Field      string `json:"field"`
	Collection string `json:"collection"`
}

type Registry struct {
	generation uint64
	seed       uint64
	items      map[Identity]Provenance
}

func NewRegistry() *Registry {
	return &Registry{
		seed:  rand.Uint64(),
		items: make(map[Identity]Provenance),
	}
}

// Build replaces the table with the entries of collections. When two fields
// share an identity the later one wins.
func (r *Registry) Build(collections ...Collection) {
	r.Reset()

	for _, c := range collections {
		for _, e := range c.Entries {
			id := e.Identity
			if id == 0 {
				id = r.IdentityOf(e.Value)
			}
			r.items[id] = Provenance{Field: e.Name(), Collection: c.Name}
		}
	}
}

// Reset drops every entry and retires all identities minted so far.
func (r *Registry) Reset() {
	clear(r.items)
	r.generation++
	r.seed = rand.Uint64()
}

// IdentityOf returns the identity the current build assigns to value.
func (r *Registry) IdentityOf(value string) Identity {
	d := xxhash.NewWithSeed(r.seed)
	_, _ = d.WriteString(value)
	id := Identity(d.Sum64())
	if id == 0 {
		id = 1
	}
	return id
}

func (r *Registry) Lookup(id Identity) (Provenance, bool) {
	p, ok := r.items[id]
	return p, ok
}

// Contains reports whether id names a value taken from the request.
func (r *Registry) Contains(id Identity) bool {
	_, ok := r.items[id]
	return ok
}

// Attribute is Lookup on the identity of value.
func (r *Registry) Attribute(value string) (Provenance, bool) {
	return r.Lookup(r.IdentityOf(value))
}

func (r *Registry) Len() int {
	return len(r.items)
}
