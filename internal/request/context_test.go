package request

import (
	"testing"

	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/dagbolade/rasp-agent/internal/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAssignsID(t *testing.T) {
	c := NewContext(4)
	c.Begin(Info{URL: "http://example.com/a"})

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, "http://example.com/a", c.URL())
	assert.True(t, c.InProgress())

	c.End()
	c.Begin(Info{ID: "fixed"})
	assert.Equal(t, "fixed", c.ID())
}

func TestEndDropsRequestState(t *testing.T) {
	c := NewContext(4)
	c.Begin(Info{ID: "r1"}, correlation.Collection{
		Name:    correlation.CollectionGet,
		Entries: []correlation.Entry{{Key: "q", Value: "x"}},
	})
	c.Cache().Activate()
	c.Cache().Put("fp", check.SQL, check.Continue)

	_, ok := c.Params().Attribute("x")
	require.True(t, ok)

	c.End()

	assert.False(t, c.InProgress())
	assert.Zero(t, c.Params().Len())
	assert.True(t, c.Cache().IsSuppressed(check.SQL))
	assert.Empty(t, c.ID())

	_, ok = c.Cache().Get("fp", check.SQL)
	assert.True(t, ok, "verdict memo outlives the request")
}

func TestEnterBlockOnce(t *testing.T) {
	c := NewContext(0)
	c.Begin(Info{})

	assert.True(t, c.EnterBlock())
	assert.False(t, c.EnterBlock())
	assert.True(t, c.Blocking())

	c.End()
	c.Begin(Info{})
	assert.True(t, c.EnterBlock())
}

func TestAbortIsRequestScoped(t *testing.T) {
	c := NewContext(0)
	c.Begin(Info{ID: "r1"})
	require.Nil(t, c.Abort())

	abort := &block.Abort{RequestID: "r1", Status: 403}
	c.SetAbort(abort)
	assert.Same(t, abort, c.Abort())

	c.End()
	assert.Nil(t, c.Abort())

	c.SetAbort(abort)
	c.Begin(Info{ID: "r2"})
	assert.Nil(t, c.Abort())
}
