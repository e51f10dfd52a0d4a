// Package keccak implements the Keccak-f[1600] permutation and the
// SHA3-256, SHA3-512, SHAKE128, and SHAKE256 constructions built on top of
// it, per FIPS 202. This is the one primitive in the module implemented
// directly against the standard rather than wired to a third-party
// library: Keccak-f[1600] is the object under specification here, not a
// concern a dependency should own.
package keccak

import "github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"

const (
	// RateSHA3_256 is the sponge rate, in bytes, for SHA3-256.
	RateSHA3_256 = 136
	// RateSHA3_512 is the sponge rate, in bytes, for SHA3-512.
	RateSHA3_512 = 72
	// RateSHAKE128 is the sponge rate, in bytes, for SHAKE128.
	RateSHAKE128 = 168
	// RateSHAKE256 is the sponge rate, in bytes, for SHAKE256.
	RateSHAKE256 = 136

	suffixSHA3  = 0x06
	suffixSHAKE = 0x1F

	maxXOFOutput = 65536
)

// roundConstants are the 24 Keccak-f[1600] round constants (ι step).
var roundConstants = [24]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808a,
	0x8000000080008000, 0x000000000000808b, 0x0000000080000001,
	0x8000000080008081, 0x8000000000008009, 0x000000000000008a,
	0x0000000000000088, 0x0000000080008009, 0x000000008000000a,
	0x000000008000808b, 0x800000000000008b, 0x8000000000008089,
	0x8000000000008003, 0x8000000000008002, 0x8000000000000080,
	0x000000000000800a, 0x800000008000000a, 0x8000000080008081,
	0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

// rhoOffsets are the per-lane left-rotation amounts for the ρ step, indexed
// the same way as the state array (x + 5*y).
var rhoOffsets = [25]uint{
	0, 1, 62, 28, 27, 36, 44, 6, 55, 20,
	3, 10, 43, 25, 39, 41, 45, 15, 21, 8,
	18, 2, 61, 56, 14,
}

// piIndices[i] is the source lane the π step moves into lane i.
var piIndices = [25]uint{
	0, 6, 12, 18, 24, 3, 9, 10, 16, 22, 1, 7, 13, 19, 20,
	4, 5, 11, 17, 23, 2, 8, 14, 15, 21,
}

func rol64(x uint64, n uint) uint64 {
	if n == 0 {
		return x
	}
	return (x << n) | (x >> (64 - n))
}

// permute applies the 24-round Keccak-f[1600] permutation to state in
// place. Every round runs the same straight-line sequence of operations
// regardless of the state's contents: there is no data-dependent branch or
// table index derived from state values, only from the round number and
// fixed lane positions.
func permute(state *[25]uint64) {
	var c, d [5]uint64
	var b [25]uint64

	for round := 0; round < 24; round++ {
		// θ
		for x := 0; x < 5; x++ {
			c[x] = state[x] ^ state[x+5] ^ state[x+10] ^ state[x+15] ^ state[x+20]
		}
		for x := 0; x < 5; x++ {
			d[x] = c[(x+4)%5] ^ rol64(c[(x+1)%5], 1)
		}
		for x := 0; x < 5; x++ {
			for y := 0; y < 5; y++ {
				state[x+5*y] ^= d[x]
			}
		}

		// ρ and π
		for i := 0; i < 25; i++ {
			b[i] = rol64(state[piIndices[i]], rhoOffsets[piIndices[i]])
		}

		// χ
		for y := 0; y < 5; y++ {
			for x := 0; x < 5; x++ {
				state[x+5*y] = b[x+5*y] ^ ((^b[(x+1)%5+5*y]) & b[(x+2)%5+5*y])
			}
		}

		// ι
		state[0] ^= roundConstants[round]
	}
}

// Sponge is a Keccak sponge construction supporting the absorb/finalize/
// squeeze lifecycle shared by SHA3 and SHAKE.
type Sponge struct {
	state  [25]uint64
	rate   int
	suffix byte
	pos    int

	finalized bool
}

// NewSponge initializes a sponge with the given rate (bytes) and domain
// separation suffix.
func NewSponge(rate int, suffix byte) *Sponge {
	return &Sponge{rate: rate, suffix: suffix}
}

// laneByte returns the lane holding the given byte offset and the bit shift
// of that byte within the little-endian lane, used to XOR input/output a
// byte at a time without reinterpreting the whole state array.
func (s *Sponge) laneByte(byteIndex int) (lane int, shift uint) {
	lane = byteIndex / 8
	shift = uint(byteIndex%8) * 8
	return
}

// Absorb XORs data into the sponge state at the current cursor, permuting
// whenever the cursor reaches the rate.
func (s *Sponge) Absorb(data []byte) {
	if s.finalized {
		panic("keccak: Absorb after Finalize")
	}
	for len(data) > 0 {
		chunk := s.rate - s.pos
		if chunk > len(data) {
			chunk = len(data)
		}
		for i := 0; i < chunk; i++ {
			lane, shift := s.laneByte(s.pos + i)
			s.state[lane] ^= uint64(data[i]) << shift
		}
		s.pos += chunk
		data = data[chunk:]
		if s.pos == s.rate {
			permute(&s.state)
			s.pos = 0
		}
	}
}

// Finalize applies the domain-separation padding and the final permutation.
// It must be called exactly once, after all Absorb calls and before any
// Squeeze call.
func (s *Sponge) Finalize() {
	if s.finalized {
		return
	}
	lane, shift := s.laneByte(s.pos)
	s.state[lane] ^= uint64(s.suffix) << shift

	lane, shift = s.laneByte(s.rate - 1)
	s.state[lane] ^= uint64(0x80) << shift

	permute(&s.state)
	s.pos = 0
	s.finalized = true
}

// Squeeze returns the next n bytes of output, permuting between blocks as
// needed. Squeeze may be called multiple times to stream output.
func (s *Sponge) Squeeze(n int) []byte {
	if !s.finalized {
		s.Finalize()
	}
	out := make([]byte, n)
	produced := 0
	for produced < n {
		chunk := s.rate - s.pos
		if chunk > n-produced {
			chunk = n - produced
		}
		for i := 0; i < chunk; i++ {
			lane, shift := s.laneByte(s.pos + i)
			out[produced+i] = byte(s.state[lane] >> shift)
		}
		produced += chunk
		s.pos += chunk
		if produced < n {
			permute(&s.state)
			s.pos = 0
		}
	}
	return out
}

// hashTwo runs a fixed-output sponge over a followed by optional b and
// returns outLen bytes. It implements the H(a || b) idiom §4.3 calls for
// without the caller needing to allocate a concatenated buffer.
func hashTwo(rate int, suffix byte, a, b []byte, outLen int) []byte {
	sp := NewSponge(rate, suffix)
	sp.Absorb(a)
	if len(b) > 0 {
		sp.Absorb(b)
	}
	return sp.Squeeze(outLen)
}

// SHA3_256 returns the 32-byte SHA3-256 digest of data, optionally
// concatenated with extra (for the H(a || b) idiom).
func SHA3_256(data []byte, extra ...[]byte) [32]byte {
	var e []byte
	if len(extra) > 0 {
		e = extra[0]
	}
	var out [32]byte
	copy(out[:], hashTwo(RateSHA3_256, suffixSHA3, data, e, 32))
	return out
}

// SHA3_512 returns the 64-byte SHA3-512 digest of data, optionally
// concatenated with extra.
func SHA3_512(data []byte, extra ...[]byte) [64]byte {
	var e []byte
	if len(extra) > 0 {
		e = extra[0]
	}
	var out [64]byte
	copy(out[:], hashTwo(RateSHA3_512, suffixSHA3, data, e, 64))
	return out
}

// Shake128 returns outLen bytes of SHAKE128 output for data concatenated
// with optional extra. It returns pqcerr.ErrInvalidParameter (wrapped in a
// *pqcerr.Error) if outLen is zero or exceeds 65536.
func Shake128(outLen int, data []byte, extra ...[]byte) ([]byte, error) {
	return shakeN(RateSHAKE128, outLen, data, extra...)
}

// Shake256 returns outLen bytes of SHAKE256 output for data concatenated
// with optional extra.
func Shake256(outLen int, data []byte, extra ...[]byte) ([]byte, error) {
	return shakeN(RateSHAKE256, outLen, data, extra...)
}

func shakeN(rate int, outLen int, data []byte, extra ...[]byte) ([]byte, error) {
	if outLen <= 0 || outLen > maxXOFOutput {
		return nil, pqcerr.Errorf("keccak.shake", "output length %d out of range (1..%d): %w", outLen, maxXOFOutput, pqcerr.ErrInvalidParameter)
	}
	var e []byte
	if len(extra) > 0 {
		e = extra[0]
	}
	return hashTwo(rate, suffixSHAKE, data, e, outLen), nil
}
