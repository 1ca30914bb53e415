package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition(t *testing.T) {
	assert.True(t, PositionEnd.IsEnd())
	assert.True(t, Position{}.IsEnd())
	assert.Equal(t, "end", PositionEnd.String())

	p := PositionAt(0)
	assert.False(t, p.IsEnd())
	v, ok := p.Value()
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)
	assert.Equal(t, "0", p.String())

	// End never equals a real position, including 0 and -1.
	assert.NotEqual(t, PositionEnd, PositionAt(0))
	assert.Equal(t, PositionEnd, positionFromRaw(-1))
}

func TestStreamVersion(t *testing.T) {
	assert.True(t, StreamVersionEnd.IsEnd())
	assert.Equal(t, "end", StreamVersionEnd.String())
	assert.Equal(t, "7", StreamVersionAt(7).String())
	assert.NotEqual(t, StreamVersionEnd, StreamVersionAt(0))
	assert.Equal(t, StreamVersionEnd, versionFromRaw(-1))
	assert.Equal(t, StreamVersionAt(0), versionFromRaw(0))
}

func TestExpectedVersion_ZeroValueIsAny(t *testing.T) {
	var e ExpectedVersion
	assert.True(t, e.IsAny())
	assert.Equal(t, ExpectedAny, e)
	_, ok := e.Exact()
	assert.False(t, ok)
}

func TestParseExpectedVersion(t *testing.T) {
	cases := map[string]ExpectedVersion{
		"":          ExpectedAny,
		"any":       ExpectedAny,
		"ANY":       ExpectedAny,
		"no-stream": ExpectedNoStream,
		"nostream":  ExpectedNoStream,
		"none":      ExpectedNoStream,
		"0":         ExpectedExactly(0),
		" 42 ":      ExpectedExactly(42),
	}
	for in, want := range cases {
		got, err := ParseExpectedVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"-1", "abc", "1.5", "99999999999"} {
		_, err := ParseExpectedVersion(in)
		assert.Error(t, err, in)
	}
}

func TestExpectedVersion_String(t *testing.T) {
	assert.Equal(t, "any", ExpectedAny.String())
	assert.Equal(t, "no-stream", ExpectedNoStream.String())
	assert.Equal(t, "12", ExpectedExactly(12).String())
}

func TestCheckSchemaResult_IsMatch(t *testing.T) {
	assert.True(t, CheckSchemaResult{Current: 2, Expected: 2}.IsMatch())
	assert.False(t, CheckSchemaResult{Current: 1, Expected: 2}.IsMatch())
}
