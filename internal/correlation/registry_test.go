package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Build(
		Collection{Name: CollectionGet, Entries: []Entry{
			{Key: "id", Value: "42"},
			{Positional: true, Index: 3, Value: "third"},
		}},
		Collection{Name: CollectionCookie, Entries: []Entry{
			{Key: "session", Value: "abc"},
		}},
	)

	require.Equal(t, 3, r.Len())

	p, ok := r.Attribute("42")
	require.True(t, ok)
	assert.Equal(t, Provenance{Field: "id", Collection: CollectionGet}, p)

	p, ok = r.Attribute("third")
	require.True(t, ok)
	assert.Equal(t, "3", p.Field)

	p, ok = r.Lookup(r.IdentityOf("abc"))
	require.True(t, ok)
	assert.Equal(t, CollectionCookie, p.Collection)
}

func TestLastWriteWinsOnSharedIdentity(t *testing.T) {
	r := NewRegistry()
	r.Build(
		Collection{Name: CollectionPost, Entries: []Entry{{Key: "a", Value: "same"}}},
		Collection{Name: CollectionGet, Entries: []Entry{{Key: "b", Value: "same"}}},
	)

	p, ok := r.Attribute("same")
	require.True(t, ok)
	assert.Equal(t, Provenance{Field: "b", Collection: CollectionGet}, p)
	assert.Equal(t, 1, r.Len())
}

func TestHostSuppliedIdentity(t *testing.T) {
	r := NewRegistry()
	r.Build(Collection{Name: CollectionPost, Entries: []Entry{
		{Key: "x", Value: "v", Identity: 7},
		{Key: "y", Value: "w", Identity: 7},
	}})

	p, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "y", p.Field)
	assert.True(t, r.Contains(7))
	assert.False(t, r.Contains(8))
}

func TestUnknownIdentityMisses(t *testing.T) {
	r := NewRegistry()
	r.Build(Collection{Name: CollectionGet, Entries: []Entry{{Key: "q", Value: "hello"}}})

	_, ok := r.Attribute("other")
	assert.False(t, ok)
}

func TestRebuildRetiresOldIdentities(t *testing.T) {
	r := NewRegistry()
	r.Build(Collection{Name: CollectionGet, Entries: []Entry{{Key: "q", Value: "hello"}}})
	old := r.IdentityOf("hello")
	gen := r.generation

	r.Build(Collection{Name: CollectionGet, Entries: []Entry{{Key: "q", Value: "hello"}}})
	assert.Greater(t, r.generation, gen)

	p, ok := r.Attribute("hello")
	require.True(t, ok)
	assert.Equal(t, "q", p.Field)

	if old != r.IdentityOf("hello") {
		assert.False(t, r.Contains(old))
	}

	r.Reset()
	assert.Zero(t, r.Len())
	_, ok = r.Attribute("hello")
	assert.False(t, ok)
}
