package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeBitsAreDistinct(t *testing.T) {
	seen := Mask(0)
	for _, typ := range All() {
		require.Zero(t, seen&typ.Bit(), "bit reused by %s", typ)
		seen |= typ.Bit()
	}
	assert.Equal(t, AllMask(), seen)
	assert.LessOrEqual(t, int(typeCount), 64)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("readFile")
	require.NoError(t, err)
	assert.Equal(t, ReadFile, typ)

	typ, err = ParseType("SQL")
	require.NoError(t, err)
	assert.Equal(t, SQL, typ)

	_, err = ParseType("nope")
	assert.Error(t, err)
}

func TestMaskMembership(t *testing.T) {
	m := MaskOf(SQL, Include)
	assert.True(t, m.Has(SQL))
	assert.True(t, m.Has(Include))
	assert.False(t, m.Has(Eval))
	assert.False(t, m.Has(Type(200)))

	m = m.With(Eval)
	assert.Equal(t, []Type{SQL, Include, Eval}, m.Types())
	assert.Equal(t, "[sql,include,eval]", m.String())
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
		err  bool
	}{
		{"ignore", ActionIgnore, false},
		{"", ActionIgnore, false},
		{"LOG", ActionLog, false},
		{" block ", ActionBlock, false},
		{"deny", ActionIgnore, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltinIsCopy(t *testing.T) {
	b := Builtin()
	b[0] = SQL
	assert.Equal(t, SQLException, Builtin()[0])
}
