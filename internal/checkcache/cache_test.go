package checkcache

import (
	"fmt"
	"testing"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	hits, misses, evictions int
}

func (o *countingObserver) CacheHit(check.Type)  { o.hits++ }
func (o *countingObserver) CacheMiss(check.Type) { o.misses++ }
func (o *countingObserver) CacheEvicted()        { o.evictions++ }

func TestIsSuppressed(t *testing.T) {
	c := New(8)
	c.Activate()
	c.SetWhitelist(check.MaskOf(check.SQL))
	c.SetIgnored(check.MaskOf(check.XSSEcho))

	for _, typ := range check.All() {
		want := typ == check.SQL || typ == check.XSSEcho
		assert.Equal(t, want, c.IsSuppressed(typ), typ.String())
	}
	assert.Equal(t, check.MaskOf(check.SQL, check.XSSEcho), c.Mask())
}

func TestSuppressedOutsideRequest(t *testing.T) {
	c := New(8)
	assert.True(t, c.IsSuppressed(check.SQL))

	c.Activate()
	assert.False(t, c.IsSuppressed(check.SQL))

	c.SetWhitelist(check.MaskOf(check.Include))
	c.Deactivate()
	assert.True(t, c.IsSuppressed(check.SQL))
	assert.Zero(t, c.Mask())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	const capacity = 4
	const extra = 3

	obs := &countingObserver{}
	c := New(capacity, WithObserver(obs))

	for i := 0; i < capacity+extra; i++ {
		c.Put(fmt.Sprintf("fp-%d", i), check.SQL, check.Verdict{Action: check.ActionLog})
	}

	require.Equal(t, capacity, c.Len())
	assert.Equal(t, extra, obs.evictions)

	for i := 0; i < extra; i++ {
		_, ok := c.Get(fmt.Sprintf("fp-%d", i), check.SQL)
		assert.False(t, ok, "fp-%d should be evicted", i)
	}
	for i := extra; i < capacity+extra; i++ {
		_, ok := c.Get(fmt.Sprintf("fp-%d", i), check.SQL)
		assert.True(t, ok, "fp-%d should be retained", i)
	}
}

func TestGetPromotes(t *testing.T) {
	c := New(2)
	c.Put("a", check.SQL, check.Continue)
	c.Put("b", check.SQL, check.Continue)

	_, ok := c.Get("a", check.SQL)
	require.True(t, ok)

	c.Put("c", check.SQL, check.Continue)

	_, ok = c.Get("b", check.SQL)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a", check.SQL)
	assert.True(t, ok)
	_, ok = c.Get("c", check.SQL)
	assert.True(t, ok)
}

func TestKeyIncludesCheckType(t *testing.T) {
	c := New(4)
	c.Put("same", check.SQL, check.Verdict{Action: check.ActionBlock})

	_, ok := c.Get("same", check.Include)
	assert.False(t, ok)

	v, ok := c.Get("same", check.SQL)
	require.True(t, ok)
	assert.True(t, v.Blocks())
}

func TestResetChangesCapacity(t *testing.T) {
	c := New(2)
	c.Put("a", check.SQL, check.Continue)
	c.Reset(3)

	assert.Equal(t, 3, c.Capacity())
	assert.Zero(t, c.Len())

	for _, k := range []string{"x", "y", "z"} {
		c.Put(k, check.SQL, check.Continue)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []Key{{"x", check.SQL}, {"y", check.SQL}, {"z", check.SQL}}, c.Keys())
}

func TestZeroCapacityDisablesMemo(t *testing.T) {
	obs := &countingObserver{}
	c := New(0, WithObserver(obs))
	c.Put("a", check.SQL, check.Continue)

	_, ok := c.Get("a", check.SQL)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.Equal(t, 1, obs.misses)
	assert.Nil(t, c.Keys())
}
