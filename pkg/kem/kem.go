// Package kem implements a lattice-based key encapsulation mechanism
// structurally equivalent to ML-KEM-1024 (module rank k=4, n=256, q=3329),
// including the Fujisaki-Okamoto-style implicit rejection step on
// decapsulation. Polynomial arithmetic is carried out via a Cooley-Tukey
// NTT with Montgomery/Barrett reduction, matching the structure of the C
// reference this module was distilled from; the compression formulas and
// the matrix-sampling rejection loop follow the corrected definitions in
// this project's specification rather than the reference's arithmetic
// (which has a parenthesization bug in its packing code).
package kem

import (
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/keccak"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/rng"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/secmem"
)

const (
	k   = 4    // module rank
	n   = 256  // polynomial degree
	q   = 3329 // modulus
	eta = 2    // centered binomial noise parameter
	du  = 11   // compression width for u
	dv  = 5    // compression width for v

	qinv = 62209 // q^-1 mod 2^16, used by Montgomery reduction

	// PublicKeySize, SecretKeySize, CiphertextSize, and SharedSecretSize
	// are the byte-exact wire sizes this module's specification mandates.
	PublicKeySize    = 32 + k*n*12/8 // seed || packed t (12 bits/coeff)
	SecretKeySize    = k*n*12/8 + PublicKeySize + 32 + 32
	CiphertextSize   = k*n*du/8 + n*dv/8
	SharedSecretSize = 32
)

// Poly is a degree-(n-1) polynomial over Z_q. Coefficients are always kept
// in [0, q) in standard (non-NTT) form unless a function's doc comment
// says otherwise; NTT-domain values are never stored in a named Poly
// field shared between callers, only in locals scoped to one transform.
type Poly [n]uint16

// Vector is a module element: k polynomials.
type Vector [k]Poly

// Matrix is a k x k array of polynomials, used both as the public matrix A
// and transiently during matrix-vector products.
type Matrix [k][k]Poly

// PublicKey is (seed, t) per the specification's KemPublicKey layout.
type PublicKey struct {
	Seed [32]byte
	T    Vector
}

// SecretKey is (s, embedded public key, h = SHA3-256(pk), z) per the
// specification's KemSecretKey layout.
type SecretKey struct {
	S  Vector
	Pk PublicKey
	H  [32]byte
	Z  [32]byte
}

// Ciphertext is the compressed (u, v) pair, kept as opaque wire bytes so
// decapsulate's implicit-rejection comparison operates on the same
// representation a verifier would see on the wire.
type Ciphertext [CiphertextSize]byte

// SharedSecret is the 32-byte KEM output.
type SharedSecret [32]byte

func montgomeryReduce(a int32) int16 {
	t := int16(int32(int16(a)) * qinv)
	return int16((a - int32(t)*q) >> 16)
}

func barrettReduce(a uint16) uint16 {
	t := (uint32(a) * 20159) >> 26
	return a - uint16(t)*q
}

// freezeMod reduces a possibly negative value into [0, q).
func freezeMod(a int32) uint16 {
	a %= q
	if a < 0 {
		a += q
	}
	return uint16(a)
}

// zetas are the 128 precomputed twiddle factors for the 7-level
// Cooley-Tukey NTT, in Montgomery domain.
var zetas = [128]uint16{
	2285, 2571, 2970, 1812, 1493, 1422, 287, 202,
	3158, 622, 1577, 182, 962, 2127, 1855, 1468,
	573, 2004, 264, 383, 2500, 1458, 1727, 3199,
	2648, 1017, 732, 608, 1787, 411, 3124, 1758,
	1223, 652, 2777, 1015, 2036, 1491, 3047, 1785,
	516, 3321, 3009, 2663, 1711, 2167, 126, 1469,
	2476, 3239, 3058, 830, 107, 1908, 3082, 2378,
	2931, 961, 1821, 2604, 448, 2264, 677, 2054,
	2226, 430, 555, 843, 2078, 871, 1550, 105,
	422, 587, 177, 3094, 3038, 2869, 1574, 1653,
	3083, 778, 1159, 3182, 2552, 1483, 2727, 1119,
	1739, 644, 2457, 349, 418, 329, 3173, 3254,
	817, 1097, 603, 610, 1322, 2044, 1864, 384,
	2114, 3193, 1218, 1994, 2455, 220, 2142, 1670,
	2144, 1799, 2051, 794, 1819, 2475, 2459, 478,
	3221, 3021, 996, 991, 958, 1869, 1522, 1628,
}

// ntt transforms poly into NTT (evaluation) domain in place.
func ntt(poly *Poly) {
	k := 1
	for length := 128; length >= 2; length >>= 1 {
		for start := 0; start < n; start += 2 * length {
			zeta := zetas[k]
			k++
			for j := start; j < start+length; j++ {
				t := reduceMont(int32(zeta) * int32(poly[j+length]))
				poly[j+length] = freezeMod(int32(poly[j]) - int32(t))
				poly[j] = freezeMod(int32(poly[j]) + int32(t))
			}
		}
	}
}

// invNTT reverses ntt in place and multiplies the result by the Montgomery
// factor 2^16, which cancels the 2^-16 left by polyMul's base products.
func invNTT(poly *Poly) {
	const f = 1441 // mont^2 / 128 mod q
	k := 127
	for length := 2; length <= 128; length <<= 1 {
		for start := 0; start < n; start += 2 * length {
			zeta := zetas[k]
			k--
			for j := start; j < start+length; j++ {
				t := poly[j]
				poly[j] = freezeMod(int32(t) + int32(poly[j+length]))
				diff := int32(poly[j+length]) - int32(t)
				poly[j+length] = reduceMont(int32(zeta) * int32(freezeMod(diff)))
			}
		}
	}
	for j := 0; j < n; j++ {
		poly[j] = reduceMont(int32(f) * int32(poly[j]))
	}
}

// reduceMont runs Montgomery reduction and canonicalizes the result into
// [0, q), since montgomeryReduce's raw int16 output is not itself a
// canonical residue.
func reduceMont(a int32) uint16 {
	return freezeMod(int32(montgomeryReduce(a)))
}

func polyAdd(a, b Poly) Poly {
	var c Poly
	for i := range c {
		c[i] = freezeMod(int32(a[i]) + int32(b[i]))
	}
	return c
}

func polySub(a, b Poly) Poly {
	var c Poly
	for i := range c {
		c[i] = freezeMod(int32(a[i]) - int32(b[i]))
	}
	return c
}

// polyMul returns a*b with both operands in standard domain, implemented
// by transforming copies into NTT domain, multiplying the 128 degree-1
// residues pairwise modulo (X^2 - zeta), and transforming back.
func polyMul(a, b Poly) Poly {
	ac, bc := a, b
	ntt(&ac)
	ntt(&bc)
	var p Poly
	for i := 0; i < n; i += 2 {
		zeta := int32(zetas[64+i/4])
		if i%4 == 2 {
			zeta = -zeta
		}
		a0, a1 := int32(ac[i]), int32(ac[i+1])
		b0, b1 := int32(bc[i]), int32(bc[i+1])
		p[i] = freezeMod(int32(reduceMont(int32(reduceMont(a1*b1))*zeta)) + int32(reduceMont(a0*b0)))
		p[i+1] = freezeMod(int32(reduceMont(a0*b1)) + int32(reduceMont(a1*b0)))
	}
	invNTT(&p)
	return p
}

// matrixVectorMul computes A*v, or A^T*v when transposed is set, mirroring
// the reference's matrix_vector_mul but operating on already-sampled
// standard-domain polynomials.
func matrixVectorMul(a Matrix, v Vector, transposed bool) Vector {
	var out Vector
	for i := 0; i < k; i++ {
		var acc Poly
		for j := 0; j < k; j++ {
			var row Poly
			if transposed {
				row = a[j][i]
			} else {
				row = a[i][j]
			}
			acc = polyAdd(acc, polyMul(row, v[j]))
		}
		out[i] = acc
	}
	return out
}

// sampleMatrixEntry derives A[i][j] by rejection-sampling 12-bit chunks of a
// SHAKE128 stream seeded with seed||j||i, squeezing more output whenever a
// block runs dry before n coefficients have been accepted. This follows
// the specification's corrected sampling description rather than the
// reference's bounded, occasionally-truncated loop.
func sampleMatrixEntry(seed [32]byte, i, j int) (Poly, error) {
	var poly Poly
	ext := make([]byte, 34)
	copy(ext, seed[:])
	ext[32] = byte(j)
	ext[33] = byte(i)

	sp := keccakSponge(ext)
	count := 0
	buf := sp.Squeeze(168)
	pos := 0
	for count < n {
		if pos+2 > len(buf) {
			buf = sp.Squeeze(168)
			pos = 0
		}
		val := uint16(buf[pos]) | (uint16(buf[pos+1])&0x0F)<<8
		pos += 2
		if val < q {
			poly[count] = val
			count++
		}
	}
	return poly, nil
}

func keccakSponge(seed []byte) *keccak.Sponge {
	sp := keccak.NewSponge(keccak.RateSHAKE128, 0x1F)
	sp.Absorb(seed)
	return sp
}

func deriveMatrix(seed [32]byte) (Matrix, error) {
	var a Matrix
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			p, err := sampleMatrixEntry(seed, i, j)
			if err != nil {
				return a, err
			}
			a[i][j] = p
		}
	}
	return a, nil
}

// getNoise derives a centered-binomial-distributed polynomial with
// parameter eta from seed and a domain-separating nonce.
func getNoise(seed [32]byte, nonce byte) Poly {
	bufLen := eta * n / 4
	out, err := keccak.Shake256(bufLen, seed[:], []byte{nonce})
	if err != nil {
		panic("kem: shake256 noise expansion failed: " + err.Error())
	}

	var poly Poly
	for i := 0; i < n/8; i++ {
		t := uint32(out[4*i]) | uint32(out[4*i+1])<<8 | uint32(out[4*i+2])<<16 | uint32(out[4*i+3])<<24
		d := t & 0x55555555
		d += (t >> 1) & 0x55555555
		for j := 0; j < 8; j++ {
			a := int32((d >> uint(4*j)) & 0x3)
			b := int32((d >> uint(4*j+2)) & 0x3)
			poly[8*i+j] = freezeMod(a - b)
		}
	}
	return poly
}

func pack12(v Vector) []byte {
	out := make([]byte, 0, k*n*12/8)
	for i := 0; i < k; i++ {
		out = append(out, packPoly12(v[i])...)
	}
	return out
}

func packPoly12(p Poly) []byte {
	out := make([]byte, n*12/8)
	for j := 0; j < n; j += 2 {
		c0, c1 := p[j], p[j+1]
		out[j/2*3] = byte(c0)
		out[j/2*3+1] = byte(c0>>8) | byte(c1<<4)
		out[j/2*3+2] = byte(c1 >> 4)
	}
	return out
}

func unpackPoly12(data []byte) Poly {
	var p Poly
	for j := 0; j < n; j += 2 {
		b0, b1, b2 := data[j/2*3], data[j/2*3+1], data[j/2*3+2]
		p[j] = uint16(b0) | (uint16(b1)&0x0F)<<8
		p[j+1] = uint16(b1>>4) | uint16(b2)<<4
	}
	return p
}

func unpack12Vector(data []byte) Vector {
	var v Vector
	stride := n * 12 / 8
	for i := 0; i < k; i++ {
		v[i] = unpackPoly12(data[i*stride : (i+1)*stride])
	}
	return v
}

// compress maps a coefficient in [0, q) to a value in [0, 2^bits) per
// compress_d(x) = floor((x*2^d + q/2) / q) mod 2^d.
func compress(x uint16, bits uint) uint16 {
	num := uint32(x)<<bits + q/2
	return uint16(num/q) & ((1 << bits) - 1)
}

// decompress reverses compress with the inverse formula
// decompress_d(y) = floor((y*q + 2^(d-1)) / 2^d).
func decompress(y uint16, bits uint) uint16 {
	num := uint32(y)*q + (1 << (bits - 1))
	return uint16(num >> bits)
}

func packBits(coeffs []uint16, bits uint) []byte {
	out := make([]byte, (len(coeffs)*int(bits)+7)/8)
	bitPos := 0
	for _, c := range coeffs {
		for b := uint(0); b < bits; b++ {
			if c&(1<<b) != 0 {
				out[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
	return out
}

func unpackBits(data []byte, bits uint, count int) []uint16 {
	out := make([]uint16, count)
	bitPos := 0
	for i := 0; i < count; i++ {
		var c uint16
		for b := uint(0); b < bits; b++ {
			if data[bitPos/8]&(1<<uint(bitPos%8)) != 0 {
				c |= 1 << b
			}
			bitPos++
		}
		out[i] = c
	}
	return out
}

// Marshal encodes pk into its fixed-width wire form.
func (pk PublicKey) Marshal() [PublicKeySize]byte {
	var out [PublicKeySize]byte
	copy(out[:32], pk.Seed[:])
	copy(out[32:], pack12(pk.T))
	return out
}

// UnmarshalPublicKey decodes a fixed-width wire form produced by Marshal.
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, pqcerr.Wrap("kem.UnmarshalPublicKey", pqcerr.ErrInvalidKey)
	}
	var pk PublicKey
	copy(pk.Seed[:], data[:32])
	pk.T = unpack12Vector(data[32:])
	return pk, nil
}

// Marshal encodes sk into its fixed-width wire form.
func (sk SecretKey) Marshal() [SecretKeySize]byte {
	var out [SecretKeySize]byte
	pos := 0
	copy(out[pos:], pack12(sk.S))
	pos += k * n * 12 / 8
	pkBytes := sk.Pk.Marshal()
	copy(out[pos:], pkBytes[:])
	pos += PublicKeySize
	copy(out[pos:], sk.H[:])
	pos += 32
	copy(out[pos:], sk.Z[:])
	return out
}

// UnmarshalSecretKey decodes a fixed-width wire form produced by Marshal.
func UnmarshalSecretKey(data []byte) (SecretKey, error) {
	if len(data) != SecretKeySize {
		return SecretKey{}, pqcerr.Wrap("kem.UnmarshalSecretKey", pqcerr.ErrInvalidKey)
	}
	var sk SecretKey
	pos := 0
	sStride := k * n * 12 / 8
	sk.S = unpack12Vector(data[pos : pos+sStride])
	pos += sStride

	pk, err := UnmarshalPublicKey(data[pos : pos+PublicKeySize])
	if err != nil {
		return SecretKey{}, pqcerr.Wrap("kem.UnmarshalSecretKey", err)
	}
	sk.Pk = pk
	pos += PublicKeySize

	copy(sk.H[:], data[pos:pos+32])
	pos += 32
	copy(sk.Z[:], data[pos:pos+32])
	return sk, nil
}

// GenerateKeyPair draws fresh randomness from src and produces a KEM
// keypair: t = A*s + e in NTT-then-inverse form, pk = (seed, t), and
// sk = (s, pk, SHA3-256(pk), a 32-byte implicit-rejection value z).
func GenerateKeyPair(src rng.Source) (PublicKey, SecretKey, error) {
	var publicSeed, noiseSeed [32]byte
	if err := src.Fill(publicSeed[:]); err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("kem.GenerateKeyPair", pqcerr.ErrRngFailure)
	}
	if err := src.Fill(noiseSeed[:]); err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("kem.GenerateKeyPair", pqcerr.ErrRngFailure)
	}

	a, err := deriveMatrix(publicSeed)
	if err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("kem.GenerateKeyPair", err)
	}

	var s, e Vector
	for i := 0; i < k; i++ {
		s[i] = getNoise(noiseSeed, byte(i))
	}
	for i := 0; i < k; i++ {
		e[i] = getNoise(noiseSeed, byte(i+k))
	}

	t := matrixVectorMul(a, s, false)
	for i := 0; i < k; i++ {
		t[i] = polyAdd(t[i], e[i])
	}

	pk := PublicKey{Seed: publicSeed, T: t}

	sk := SecretKey{S: s, Pk: pk}
	pkBytes := pk.Marshal()
	sk.H = keccak.SHA3_256(pkBytes[:])
	if err := src.Fill(sk.Z[:]); err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("kem.GenerateKeyPair", pqcerr.ErrRngFailure)
	}

	secmem.Zeroize(noiseSeed[:])
	return pk, sk, nil
}

// encapsulateWithMessage is the deterministic core of Encapsulate and of
// the implicit-rejection re-encapsulation step in Decapsulate: given a
// 32-byte message m and a public key, it derives everything else.
func encapsulateWithMessage(pk PublicKey, m [32]byte) (Ciphertext, SharedSecret, error) {
	pkBytes := pk.Marshal()
	pkHash := keccak.SHA3_256(pkBytes[:])

	coinsIn := make([]byte, 64)
	copy(coinsIn[:32], m[:])
	copy(coinsIn[32:], pkHash[:])
	coinsArr := keccak.SHA3_512(coinsIn)
	var coins [32]byte
	copy(coins[:], coinsArr[32:64]) // r_seed is the second half of SHA3-512(m||H(pk))

	a, err := deriveMatrix(pk.Seed)
	if err != nil {
		return Ciphertext{}, SharedSecret{}, err
	}

	var r, e1 Vector
	for i := 0; i < k; i++ {
		r[i] = getNoise(coins, byte(i))
		e1[i] = getNoise(coins, byte(i+k))
	}
	e2 := getNoise(coins, byte(2*k))

	u := matrixVectorMul(a, r, true)
	for i := 0; i < k; i++ {
		u[i] = polyAdd(u[i], e1[i])
	}

	var tr Poly
	for i := 0; i < k; i++ {
		tr = polyAdd(tr, polyMul(pk.T[i], r[i]))
	}
	v := polyAdd(tr, e2)
	for i := 0; i < n; i++ {
		bit := (m[i/8] >> uint(i%8)) & 1
		add := uint16(0)
		if bit == 1 {
			add = (q + 1) / 2
		}
		v[i] = barrettReduce(v[i] + add)
	}

	var ct Ciphertext
	pos := 0
	for i := 0; i < k; i++ {
		compressed := make([]uint16, n)
		for j := 0; j < n; j++ {
			compressed[j] = compress(u[i][j], du)
		}
		packed := packBits(compressed, du)
		copy(ct[pos:], packed)
		pos += len(packed)
	}
	{
		compressed := make([]uint16, n)
		for j := 0; j < n; j++ {
			compressed[j] = compress(v[j], dv)
		}
		packed := packBits(compressed, dv)
		copy(ct[pos:], packed)
	}

	ctHash := keccak.SHA3_256(ct[:])
	kbar := make([]byte, 32)
	copy(kbar, coinsArr[:32]) // Kbar is the first half of SHA3-512(m||H(pk))
	ssIn := append(append([]byte{}, kbar...), ctHash[:]...)
	ss := keccak.SHA3_256(ssIn)

	var shared SharedSecret
	copy(shared[:], ss[:])
	return ct, shared, nil
}

// Encapsulate draws a fresh 32-byte message from src and produces a
// ciphertext and shared secret bound to pk.
func Encapsulate(pk PublicKey, src rng.Source) (Ciphertext, SharedSecret, error) {
	var m [32]byte
	if err := src.Fill(m[:]); err != nil {
		return Ciphertext{}, SharedSecret{}, pqcerr.Wrap("kem.Encapsulate", pqcerr.ErrRngFailure)
	}
	ct, ss, err := encapsulateWithMessage(pk, m)
	if err != nil {
		return Ciphertext{}, SharedSecret{}, pqcerr.Wrap("kem.Encapsulate", err)
	}
	secmem.Zeroize(m[:])
	return ct, ss, nil
}

// Decapsulate recovers the shared secret bound to ct under sk. It is a
// total function: an invalid ciphertext never returns an error, only a
// pseudo-random shared secret indistinguishable from a valid one without
// knowledge of sk.Z. The accept/reject choice is made with secmem.CTSelect
// rather than a branch, so no timing signal depends on ciphertext validity.
func Decapsulate(sk SecretKey, ct Ciphertext) SharedSecret {
	uCoeffsPerPoly := n * du / 8
	pos := 0
	var u Vector
	for i := 0; i < k; i++ {
		compressed := unpackBits(ct[pos:pos+uCoeffsPerPoly], du, n)
		pos += uCoeffsPerPoly
		for j := 0; j < n; j++ {
			u[i][j] = decompress(compressed[j], du)
		}
	}
	vCompressed := unpackBits(ct[pos:], dv, n)
	var v Poly
	for j := 0; j < n; j++ {
		v[j] = decompress(vCompressed[j], dv)
	}

	var su Poly
	for i := 0; i < k; i++ {
		su = polyAdd(su, polyMul(sk.S[i], u[i]))
	}
	mp := polySub(v, su)

	var m [32]byte
	for i := 0; i < 32; i++ {
		var byteVal byte
		for j := 0; j < 8; j++ {
			coeff := mp[i*8+j]
			t := (uint32(coeff)<<1 + q/2) / q
			byteVal |= byte(t&1) << uint(j)
		}
		m[i] = byteVal
	}

	ctPrime, ssAccept, err := encapsulateWithMessage(sk.Pk, m)
	if err != nil {
		// Only reachable on an internal invariant violation (matrix
		// sampling cannot fail in this implementation); fall back to
		// the reject path deterministically.
		ctPrime = Ciphertext{}
	}

	match := secmem.CTEqual(ct[:], ctPrime[:])

	ctHash := keccak.SHA3_256(ct[:])
	rejectIn := append(append([]byte{}, sk.Z[:]...), ctHash[:]...)
	rejectDigest := keccak.SHA3_256(rejectIn)

	selected := secmem.CTSelect(rejectDigest[:], ssAccept[:], match)

	var out SharedSecret
	copy(out[:], selected)
	return out
}
