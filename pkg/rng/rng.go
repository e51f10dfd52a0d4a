// Package rng defines the injectable random-byte source every keygen,
// encapsulate, and sign operation draws fresh entropy from at its boundary.
// The core never caches randomness between calls.
package rng

import (
	"crypto/rand"
	"io"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
)

// Source produces uniform random bytes on demand. Implementations are free
// to use OS entropy, a hardware RNG, or — in tests — a deterministic seed.
type Source interface {
	// Fill writes len(buf) uniform random bytes into buf. It returns
	// pqcerr.ErrRngFailure if fewer bytes than requested could be produced.
	Fill(buf []byte) error
}

// CryptoSource is a Source backed by crypto/rand.Reader.
type CryptoSource struct{}

// NewCryptoSource returns a Source backed by the operating system's CSPRNG.
func NewCryptoSource() CryptoSource {
	return CryptoSource{}
}

// Fill implements Source.
func (CryptoSource) Fill(buf []byte) error {
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return pqcerr.Wrap("rng.Fill", pqcerr.ErrRngFailure)
	}
	return nil
}

// FixedSource is a Source that always returns the same seed bytes,
// cycling the seed if more bytes are requested than the seed holds. It
// exists for reproducing scenarios like the spec's "fixed 96 zero bytes"
// test vector, never for production use.
type FixedSource struct {
	seed []byte
}

// NewFixedSource returns a Source that repeats seed indefinitely. Passing an
// empty seed is a programmer error and panics, since it can never fill a
// non-empty buffer.
func NewFixedSource(seed []byte) *FixedSource {
	if len(seed) == 0 {
		panic("rng: NewFixedSource requires a non-empty seed")
	}
	cp := make([]byte, len(seed))
	copy(cp, seed)
	return &FixedSource{seed: cp}
}

// Fill implements Source by repeating the configured seed.
func (f *FixedSource) Fill(buf []byte) error {
	for i := range buf {
		buf[i] = f.seed[i%len(f.seed)]
	}
	return nil
}
