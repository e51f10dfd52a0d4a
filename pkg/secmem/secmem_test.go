package secmem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCTEqual(t *testing.T) {
	a := []byte("the quick brown fox")
	b := []byte("the quick brown fox")
	c := []byte("the quick brown fog")

	assert.True(t, CTEqual(a, b), "expected equal slices to compare equal")
	assert.False(t, CTEqual(a, c), "expected differing slices to compare unequal")
	assert.False(t, CTEqual(a, a[:len(a)-1]), "expected unequal-length slices to compare unequal")
}

// TestCTEqualTiming is a statistical smoke test, not a rigorous timing
// proof: it checks that comparisons differing at the first byte and
// comparisons differing at the last byte take roughly the same wall-clock
// time, which a naive short-circuiting memcmp would fail.
func TestCTEqualTiming(t *testing.T) {
	const n = 4096
	const trials = 2000

	a := make([]byte, n)
	first := make([]byte, n)
	copy(first, a)
	first[0] ^= 0xFF

	last := make([]byte, n)
	copy(last, a)
	last[n-1] ^= 0xFF

	timeOf := func(x []byte) time.Duration {
		start := time.Now()
		for i := 0; i < trials; i++ {
			CTEqual(a, x)
		}
		return time.Since(start)
	}

	tFirst := timeOf(first)
	tLast := timeOf(last)

	ratio := float64(tFirst) / float64(tLast)
	require.Falsef(t, ratio < 0.2 || ratio > 5,
		"CTEqual timing diverges too much between early/late mismatch: first=%v last=%v ratio=%f", tFirst, tLast, ratio)
}

func TestZeroize(t *testing.T) {
	buf := []byte("sensitive-key-material-32-bytes!")
	Zeroize(buf)
	for i, b := range buf {
		assert.Zerof(t, b, "byte %d not zeroized: %x", i, b)
	}
}

func TestZeroizeString(t *testing.T) {
	s := "top-secret"
	ZeroizeString(&s)
	assert.Equal(t, "", s)
}

func TestZeroizeStringNilIsNoop(t *testing.T) {
	ZeroizeString(nil) // must not panic
}

func TestCTSelect(t *testing.T) {
	dest := []byte{1, 2, 3, 4}
	src := []byte{9, 8, 7, 6}

	require.Equal(t, dest, CTSelect(dest, src, false))
	require.Equal(t, src, CTSelect(dest, src, true))
}

func TestCTSelectPanicsOnLengthMismatch(t *testing.T) {
	assert.Panics(t, func() {
		CTSelect([]byte{1, 2}, []byte{1, 2, 3}, true)
	})
}
