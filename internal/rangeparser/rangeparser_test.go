package rangeparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NoRange(t *testing.T) {
	r, err := Parse("", 1000)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 1000}, r)
}

func TestParse_Explicit(t *testing.T) {
	r, err := Parse("bytes=0-0", 1000)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 1}, r)
	assert.Equal(t, int64(1), r.Len())

	r, err = Parse("bytes=1048576-7340031", 10485760)
	require.NoError(t, err)
	assert.Equal(t, Range{1048576, 7340032}, r)
}

func TestParse_OpenEnded(t *testing.T) {
	r, err := Parse("bytes=999-", 1000)
	require.NoError(t, err)
	assert.Equal(t, Range{999, 1000}, r)

	_, err = Parse("bytes=1000-", 1000)
	assert.ErrorIs(t, err, ErrNotSatisfiable)
}

func TestParse_Suffix(t *testing.T) {
	r, err := Parse("bytes=-100", 1000)
	require.NoError(t, err)
	assert.Equal(t, Range{900, 1000}, r)
	assert.Equal(t, "bytes 900-999/1000", r.ContentRange(1000))

	r, err = Parse("bytes=-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, Range{999, 1000}, r)
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"bytes=2000-3000",
		"junk",
		"bytes=",
		"bytes=5-2",
		"bytes=-0",
		"bytes=a-b",
		"bytes=0-10,20-30",
	}
	for _, c := range cases {
		_, err := Parse(c, 1000)
		assert.ErrorIsf(t, err, ErrNotSatisfiable, "case %q", c)
	}
}

func TestParse_ZeroTotalSize(t *testing.T) {
	_, err := Parse("bytes=0-10", 0)
	assert.ErrorIs(t, err, ErrNotSatisfiable)
}

func TestRoundTrip(t *testing.T) {
	const total = int64(123456)
	r, err := Parse("bytes=100-200", total)
	require.NoError(t, err)

	wire := r.String()
	r2, err := Parse(wire, total)
	require.NoError(t, err)
	assert.Equal(t, r, r2)
}

func TestNotSatisfiableContentRange(t *testing.T) {
	assert.Equal(t, "bytes */1000", NotSatisfiableContentRange(1000))
}
