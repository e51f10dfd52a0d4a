// Package sig implements a lattice-based digital signature scheme
// structurally equivalent to ML-DSA-87/Dilithium-5 (k=8, l=7, n=256,
// q=8380417), signing via Fiat-Shamir with aborts and verifying via the
// corresponding hint-assisted reconstruction. Field arithmetic follows the
// same Montgomery-reduction, NTT-domain structure as this
// project's KEM; hint encoding follows this project's specification
// (omega positions plus k cumulative counts) rather than the reference's
// lossy one-byte-per-position packing.
package sig

import (
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/keccak"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/pqcerr"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/rng"
	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/secmem"
)

const (
	k   = 8   // rows of A / length of s2, t0, t1, w
	l   = 7   // columns of A / length of s1, y, z
	n   = 256 // polynomial degree
	q   = 8380417
	eta = 2
	tau = 60
	beta = 196
	gamma1 = 1 << 19
	gamma2 = (q - 1) / 32
	omega  = 75
	dBits  = 13

	qinv = 58728449 // q^-1 mod 2^32, Montgomery constant

	gamma1Bits = 20 // bits needed to encode (gamma1 - t) for t in [0, 2^20)
	t1Bits     = 10 // bits per Power2Round high-bits coefficient
	t0Bits     = 13 // bits per Power2Round low-bits coefficient (== dBits)
	etaBits    = 3  // bits per centered-eta coefficient

	// PublicKeySize, SecretKeySize, and SignatureSize are the byte-exact
	// wire sizes this module's specification mandates.
	PublicKeySize = 32 + k*n*t1Bits/8
	// tr is carried as a 32-byte SHA3-256 commitment to pk rather than the
	// 64-byte SHA3-512 the prose in section 4.5 names, so that the
	// secret key's total byte layout matches the specification's
	// byte-exact table (4864); see DESIGN.md.
	SecretKeySize = 32 + 32 + 32 + l*n*etaBits/8 + k*n*etaBits/8 + k*n*t0Bits/8
	SignatureSize = 32 + l*n*gamma1Bits/8 + omega + k
)

// Poly holds n coefficients in Z_q, canonical form [0, q), used whenever a
// polynomial crosses an NTT transform.
type Poly [n]uint32

// VecL is an l-length module vector (s1, y, z).
type VecL [l]Poly

// VecK is a k-length module vector (s2, t0, t1, w).
type VecK [k]Poly

// Matrix is the public k x l matrix A.
type Matrix [k][l]Poly

// PublicKey is (rho, packed t1).
type PublicKey struct {
	Rho [32]byte
	T1  VecK
}

// SecretKey is (rho, K, tr, s1, s2, t0).
type SecretKey struct {
	Rho [32]byte
	Key [32]byte
	Tr  [32]byte
	S1  VecL
	S2  VecK
	T0  VecK
}

// Signature is (challenge seed c~, packed z, packed hint).
type Signature struct {
	C [32]byte
	Z VecL
	H VecK // boolean hint bits, true where set
}

func montgomeryReduce(a int64) int32 {
	t := int32(a) * qinv
	return int32((a - int64(t)*q) >> 32)
}

func freezeMod(a int64) uint32 {
	a %= q
	if a < 0 {
		a += q
	}
	return uint32(a)
}

func reduceMont(a int64) uint32 {
	return freezeMod(int64(montgomeryReduce(a)))
}

// zetas are the 256 precomputed NTT twiddle factors for this modulus.
var zetas = [256]uint32{
	0, 25847, 5771523, 7861508, 237124, 7602457, 7504169, 466468,
	1826347, 2353451, 8021166, 6288512, 3119733, 5495562, 3111497, 2680103,
	2725464, 1024112, 7300517, 3585928, 7830929, 7260833, 2619752, 6271868,
	6262231, 4520680, 6980856, 5102745, 1757237, 8360995, 4010497, 280005,
	2706023, 95776, 3077325, 3530437, 6718724, 4788269, 5842901, 3915439,
	4519302, 5336701, 3574422, 5512770, 3539968, 8079950, 2348700, 7841118,
	6681150, 6736599, 3505694, 4558682, 3507263, 6239768, 6779997, 3699596,
	811944, 531354, 954230, 3881043, 3900724, 5823537, 2071892, 5582638,
	4450022, 6851714, 4702672, 5339162, 6927966, 3475950, 2176455, 6795196,
	7122806, 1939314, 4296819, 7380215, 5190273, 5223087, 4747489, 126922,
	3412210, 7396998, 2147896, 2715295, 5412772, 4686924, 7969390, 5903370,
	7709315, 7151892, 8357436, 7072248, 7998430, 1349076, 1852771, 6949987,
	5037034, 264944, 508951, 3097992, 44288, 7280319, 904516, 3958618,
	4656075, 8371839, 1653064, 5130689, 2389356, 8169440, 759969, 7063561,
	189548, 4827145, 3159746, 6529015, 5971092, 8202977, 1315589, 1341330,
	1285669, 6795489, 7567685, 6940675, 5361315, 4499357, 4751448, 3839961,
	2091667, 3407706, 2316500, 3817976, 5037939, 2244091, 5933984, 4817955,
	266997, 2434439, 7144689, 3513181, 4860065, 4621053, 7183191, 5187039,
	900702, 1859098, 909542, 819034, 495491, 6767243, 8337157, 7857917,
	7725090, 5257975, 2031748, 3207046, 4823422, 7855319, 7611795, 4784579,
	342297, 286988, 5942594, 4108315, 3437287, 5038140, 1735879, 203044,
	2842341, 2691481, 5790267, 1265009, 4055324, 1247620, 2486353, 1595974,
	4613401, 1250494, 2635921, 4832145, 5386378, 1869119, 1903435, 7329447,
	7047359, 1237275, 5062207, 6950192, 7929317, 1312455, 3306115, 6417775,
	7100756, 1917081, 5834105, 7005614, 1500165, 777191, 2235880, 3406031,
	7838005, 5548557, 6709241, 6533464, 5796124, 4656147, 594136, 4603424,
	6366809, 2432395, 2454455, 8215696, 1957272, 3369112, 185531, 7173032,
	5196991, 162844, 1616392, 3014001, 810149, 1652634, 4686184, 6581310,
	5341501, 3523897, 3866901, 269760, 2213111, 7404533, 1717735, 472078,
	7953734, 1723600, 6577327, 1910376, 6712985, 7276084, 8119771, 4546524,
	5441381, 6144432, 7959518, 6094090, 183443, 7403526, 1612842, 4834730,
	7826001, 3919660, 8332111, 7018208, 3937738, 1400424, 7534263, 1976782,
}

func ntt(poly *Poly) {
	kk := 1
	for length := 128; length > 0; length >>= 1 {
		for start := 0; start < n; start += 2 * length {
			zeta := zetas[kk]
			kk++
			for j := start; j < start+length; j++ {
				t := reduceMont(int64(zeta) * int64(poly[j+length]))
				poly[j+length] = freezeMod(int64(poly[j]) - int64(t))
				poly[j] = freezeMod(int64(poly[j]) + int64(t))
			}
		}
	}
}

func invNTT(poly *Poly) {
	const f = 41978 // mont^2 / 256 mod q
	kk := 255
	for length := 1; length < n; length <<= 1 {
		for start := 0; start < n; start += 2 * length {
			zeta := zetas[kk]
			kk--
			for j := start; j < start+length; j++ {
				t := poly[j]
				poly[j] = freezeMod(int64(t) + int64(poly[j+length]))
				diff := int64(poly[j+length]) - int64(t)
				poly[j+length] = reduceMont(int64(zeta) * diff)
			}
		}
	}
	for j := 0; j < n; j++ {
		poly[j] = reduceMont(int64(f) * int64(poly[j]))
	}
}

func polyAdd(a, b Poly) Poly {
	var c Poly
	for i := range c {
		c[i] = freezeMod(int64(a[i]) + int64(b[i]))
	}
	return c
}

func polySub(a, b Poly) Poly {
	var c Poly
	for i := range c {
		c[i] = freezeMod(int64(a[i]) - int64(b[i]))
	}
	return c
}

func polyMul(a, b Poly) Poly {
	ac, bc := a, b
	ntt(&ac)
	ntt(&bc)
	var p Poly
	for i := range p {
		p[i] = reduceMont(int64(ac[i]) * int64(bc[i]))
	}
	invNTT(&p)
	return p
}

// matrixVec computes A * v for the k x l matrix A and the l-length vector v.
func matrixVec(a Matrix, v VecL) VecK {
	var out VecK
	for i := 0; i < k; i++ {
		var acc Poly
		for j := 0; j < l; j++ {
			acc = polyAdd(acc, polyMul(a[i][j], v[j]))
		}
		out[i] = acc
	}
	return out
}

// centered reinterprets a canonical coefficient in [0, q) as a signed
// value in (-(q-1)/2, (q-1)/2].
func centered(x uint32) int64 {
	v := int64(x)
	if v > (q-1)/2 {
		v -= q
	}
	return v
}

func sampleUniformPoly(rho [32]byte, nonce uint16) Poly {
	ext := make([]byte, 34)
	copy(ext, rho[:])
	ext[32] = byte(nonce)
	ext[33] = byte(nonce >> 8)

	sp := keccak.NewSponge(keccak.RateSHAKE128, 0x1F)
	sp.Absorb(ext)

	var poly Poly
	count := 0
	buf := sp.Squeeze(168)
	pos := 0
	for count < n {
		if pos+3 > len(buf) {
			buf = sp.Squeeze(168)
			pos = 0
		}
		t := uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16
		t &= 0x7FFFFF
		pos += 3
		if t < q {
			poly[count] = t
			count++
		}
	}
	return poly
}

func deriveMatrix(rho [32]byte) Matrix {
	var a Matrix
	for i := 0; i < k; i++ {
		for j := 0; j < l; j++ {
			a[i][j] = sampleUniformPoly(rho, uint16(i<<8|j))
		}
	}
	return a
}

// sampleEtaPoly draws a polynomial with coefficients uniform over {-eta,...,eta} via rejection sampling over
// nibbles, mirroring the reference's poly_uniform_eta.
func sampleEtaPoly(seed [32]byte, nonce uint16) Poly {
	nonceBytes := []byte{byte(nonce), byte(nonce >> 8)}
	out, err := keccak.Shake256(272, seed[:], nonceBytes)
	if err != nil {
		panic("sig: shake256 eta expansion failed: " + err.Error())
	}

	var poly Poly
	ctr := 0
	for i := 0; ctr < n && i < len(out); i++ {
		t0 := uint32(out[i] & 0x0F)
		t1 := uint32(out[i] >> 4)
		if t0 < 15 {
			t0 -= (205 * t0 >> 10) * 5
			poly[ctr] = freezeMod(2 - int64(t0))
			ctr++
		}
		if t1 < 15 && ctr < n {
			t1 -= (205 * t1 >> 10) * 5
			poly[ctr] = freezeMod(2 - int64(t1))
			ctr++
		}
	}
	return poly
}

// sampleGamma1Poly draws a polynomial with "centered" coefficients in
// (-gamma1, gamma1] by expanding a bit-packed stream of n 20-bit samples
// and mapping each to gamma1-t.
func sampleGamma1Poly(seed [64]byte, nonce uint16) Poly {
	nonceBytes := []byte{byte(nonce), byte(nonce >> 8)}
	bufLen := n * gamma1Bits / 8
	out, err := keccak.Shake256(bufLen, seed[:], nonceBytes)
	if err != nil {
		panic("sig: shake256 gamma1 expansion failed: " + err.Error())
	}
	raw := unpackBits(out, gamma1Bits, n)

	var poly Poly
	for i, t := range raw {
		poly[i] = freezeMod(gamma1 - int64(t))
	}
	return poly
}

func power2round(a uint32) (a1 int64, a0 int64) {
	aa := int64(a)
	a1 = (aa + (1 << (dBits - 1))) >> dBits
	a0 = aa - (a1 << dBits)
	return
}

// decompose splits a into (a1, a0) modulo 2*gamma2, per the specification's
// Decompose definition, with a1 taken modulo 16 at the boundary (consistent
// with gamma2 = (q-1)/32, which makes (q-1)/(2*gamma2) = 16).
func decompose(a uint32) (a1 int64, a0 int64) {
	aa := int64(a % q)
	a1 = (aa + gamma2 - 1) / (2 * gamma2)
	a0 = aa - a1*2*gamma2
	if a0 > gamma2 {
		a0 -= 2 * gamma2
		a1++
	}
	const boundary = (q - 1) / (2 * gamma2)
	if a1 == boundary {
		a1 = 0
		a0--
	}
	return
}

func makeHint(a0, a1 int64) bool {
	return a0 > gamma2 || a0 < -gamma2 || (a0 == -gamma2 && a1 != 0)
}

func useHint(a uint32, hint bool) int64 {
	a1, a0 := decompose(a)
	if !hint {
		return a1
	}
	const boundary = (q - 1) / (2 * gamma2)
	if a0 > 0 {
		return (a1 + 1) % boundary
	}
	v := (a1 - 1) % boundary
	if v < 0 {
		v += boundary
	}
	return v
}

// sampleInBall derives a sparse polynomial of Hamming weight tau with
// +-1 coefficients from a 32-byte challenge seed, via the standard
// Fisher-Yates-over-a-hash-stream construction.
func sampleInBall(seed [32]byte) Poly {
	sp := keccak.NewSponge(keccak.RateSHAKE256, 0x1F)
	sp.Absorb(seed[:])
	signBytes := sp.Squeeze(8)
	signBits := uint64(0)
	for i := 0; i < 8; i++ {
		signBits |= uint64(signBytes[i]) << (8 * i)
	}

	var c Poly
	buf := sp.Squeeze(n)
	bufPos := 0
	for i := n - tau; i < n; i++ {
		var j int
		for {
			if bufPos >= len(buf) {
				buf = sp.Squeeze(n)
				bufPos = 0
			}
			j = int(buf[bufPos])
			bufPos++
			if j <= i {
				break
			}
		}
		c[i] = c[j]
		sign := signBits & 1
		signBits >>= 1
		if sign == 1 {
			c[j] = q - 1
		} else {
			c[j] = 1
		}
	}
	return c
}

func packBits(coeffs []uint32, bits uint) []byte {
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

func unpackBits(data []byte, bits uint, count int) []uint32 {
	out := make([]uint32, count)
	bitPos := 0
	for i := 0; i < count; i++ {
		var c uint32
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

func packPolyVec(polys []Poly, bits uint) []byte {
	out := make([]byte, 0, len(polys)*n*int(bits)/8)
	for _, p := range polys {
		out = append(out, packBits(p[:], bits)...)
	}
	return out
}

func unpackPolyVec(data []byte, bits uint, count int) []Poly {
	stride := n * int(bits) / 8
	out := make([]Poly, count)
	for i := 0; i < count; i++ {
		raw := unpackBits(data[i*stride:(i+1)*stride], bits, n)
		var p Poly
		copy(p[:], raw)
		out[i] = p
	}
	return out
}

// Marshal encodes pk into its fixed-width wire form.
func (pk PublicKey) Marshal() [PublicKeySize]byte {
	var out [PublicKeySize]byte
	copy(out[:32], pk.Rho[:])
	copy(out[32:], packPolyVec(pk.T1[:], t1Bits))
	return out
}

// UnmarshalPublicKey decodes a fixed-width wire form produced by Marshal.
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, pqcerr.Wrap("sig.UnmarshalPublicKey", pqcerr.ErrInvalidKey)
	}
	var pk PublicKey
	copy(pk.Rho[:], data[:32])
	copy(pk.T1[:], unpackPolyVec(data[32:], t1Bits, k))
	return pk, nil
}

// Marshal encodes sk into its fixed-width wire form.
func (sk SecretKey) Marshal() [SecretKeySize]byte {
	var out [SecretKeySize]byte
	pos := 0
	copy(out[pos:], sk.Rho[:])
	pos += 32
	copy(out[pos:], sk.Key[:])
	pos += 32
	copy(out[pos:], sk.Tr[:])
	pos += 32
	// Small signed coefficients are stored as offset - centered(c), so
	// s1/s2 in [-eta, eta] and t0 in [-2^12, 2^12) fit their bit widths.
	shifted := func(polys []Poly, offset int64) []Poly {
		out := make([]Poly, len(polys))
		for i, p := range polys {
			for j, c := range p {
				out[i][j] = uint32(offset - centered(c))
			}
		}
		return out
	}
	copy(out[pos:], packPolyVec(shifted(sk.S1[:], eta), etaBits))
	pos += l * n * etaBits / 8
	copy(out[pos:], packPolyVec(shifted(sk.S2[:], eta), etaBits))
	pos += k * n * etaBits / 8
	copy(out[pos:], packPolyVec(shifted(sk.T0[:], 1<<(dBits-1)-1), t0Bits))
	return out
}

// GenerateKeyPair draws fresh randomness from src and produces a signature
// keypair following the specification's keygen: t = A*s1 + s2, split via
// Power2Round into (t1, t0); pk = (rho, t1); sk = (rho, K, tr, s1, s2, t0).
func GenerateKeyPair(src rng.Source) (PublicKey, SecretKey, error) {
	var seed [96]byte
	if err := src.Fill(seed[:]); err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("sig.GenerateKeyPair", pqcerr.ErrRngFailure)
	}

	rhoOut, err := keccak.Shake256(32, seed[:32])
	if err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("sig.GenerateKeyPair", err)
	}
	var rho [32]byte
	copy(rho[:], rhoOut)

	rhoPrimeOut, err := keccak.Shake256(64, seed[32:64])
	if err != nil {
		return PublicKey{}, SecretKey{}, pqcerr.Wrap("sig.GenerateKeyPair", err)
	}
	var rhoPrime [32]byte
	copy(rhoPrime[:], rhoPrimeOut[:32])
	var rhoPrimeExt [32]byte
	copy(rhoPrimeExt[:], rhoPrimeOut[32:])

	var key [32]byte
	copy(key[:], seed[64:96])

	a := deriveMatrix(rho)

	var s1 VecL
	for i := 0; i < l; i++ {
		s1[i] = sampleEtaPoly(rhoPrime, uint16(i))
	}
	var s2 VecK
	for i := 0; i < k; i++ {
		s2[i] = sampleEtaPoly(rhoPrimeExt, uint16(l+i))
	}

	t := matrixVec(a, s1)
	for i := 0; i < k; i++ {
		t[i] = polyAdd(t[i], s2[i])
	}

	var t1, t0 VecK
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			a1, a0 := power2round(t[i][j])
			t1[i][j] = uint32(a1)
			t0[i][j] = freezeMod(a0)
		}
	}

	pk := PublicKey{Rho: rho, T1: t1}
	pkBytes := pk.Marshal()
	trDigest := keccak.SHA3_256(pkBytes[:])

	sk := SecretKey{Rho: rho, Key: key, Tr: trDigest, S1: s1, S2: s2, T0: t0}

	secmem.Zeroize(rhoPrime[:])
	secmem.Zeroize(rhoPrimeExt[:])
	secmem.Zeroize(seed[:])

	return pk, sk, nil
}

// Sign produces a signature over message under sk, restarting the
// Fiat-Shamir loop (drawing fresh randomness from src each call) until a
// trial satisfies every bound check; the loop has no hard iteration cap,
// matching the specification's "run until success" concurrency model.
func Sign(sk SecretKey, message []byte, src rng.Source) (Signature, error) {
	mu := keccak.SHA3_512(sk.Tr[:], message)

	a := deriveMatrix(sk.Rho)

	var rhoPrimeSeed [64]byte
	if err := src.Fill(rhoPrimeSeed[:]); err != nil {
		return Signature{}, pqcerr.Wrap("sig.Sign", pqcerr.ErrRngFailure)
	}

	for kappa := 0; ; kappa += l {
		var y VecL
		for i := 0; i < l; i++ {
			y[i] = sampleGamma1Poly(rhoPrimeSeed, uint16(kappa+i))
		}

		w := matrixVec(a, y)
		var w1 VecK
		for i := 0; i < k; i++ {
			for j := 0; j < n; j++ {
				a1, _ := decompose(w[i][j])
				w1[i][j] = uint32(a1)
			}
		}

		w1Packed := packPolyVec(w1[:], 4) // a1 in [0,16) fits 4 bits
		cTilde := keccak.SHA3_256(mu[:], w1Packed)
		c := sampleInBall(cTilde)

		var z VecL
		valid := true
		for i := 0; i < l; i++ {
			cs1 := polyMul(c, sk.S1[i])
			for j := 0; j < n; j++ {
				zv := centered(y[i][j]) + centered(cs1[j])
				if zv >= gamma1-beta || zv <= -(gamma1-beta) {
					valid = false
				}
				z[i][j] = freezeMod(zv)
			}
		}
		if !valid {
			continue
		}

		var h VecK
		hintCount := 0
		rejectedOnR0 := false
		for i := 0; i < k; i++ {
			cs2 := polyMul(c, sk.S2[i])
			ct0 := polyMul(c, sk.T0[i])
			for j := 0; j < n; j++ {
				_, w0 := decompose(w[i][j])
				r0 := w0 - centered(cs2[j])
				if r0 >= gamma2-beta || r0 <= -(gamma2 - beta) {
					rejectedOnR0 = true
				}
				ct0Centered := centered(ct0[j])
				if ct0Centered >= gamma2 || ct0Centered <= -gamma2 {
					rejectedOnR0 = true
				}
				hint := makeHint(w0-centered(cs2[j])+ct0Centered, int64(w1[i][j]))
				h[i][j] = 0
				if hint {
					h[i][j] = 1
					hintCount++
				}
			}
		}
		if rejectedOnR0 || hintCount > omega {
			continue
		}

		return Signature{C: cTilde, Z: z, H: h}, nil
	}
}

// Marshal encodes sig into its fixed-width wire form. z is packed as
// (gamma1 - centered-value) at gamma1Bits per coefficient; the hint is
// packed as omega position bytes followed by k cumulative-count bytes.
func (sig Signature) Marshal() ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	pos := 0
	copy(out[pos:], sig.C[:])
	pos += 32

	zRaw := make([]uint32, l*n)
	for i := 0; i < l; i++ {
		for j := 0; j < n; j++ {
			zRaw[i*n+j] = uint32(gamma1 - centered(sig.Z[i][j]))
		}
	}
	copy(out[pos:], packBits(zRaw, gamma1Bits))
	pos += l * n * gamma1Bits / 8

	positions := make([]byte, 0, omega)
	var counts [k]byte
	total := 0
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			if sig.H[i][j] != 0 {
				if total >= omega {
					return out, pqcerr.Errorf("sig.Marshal", "hint weight exceeds omega=%d: %w", omega, pqcerr.ErrInvalidSignature)
				}
				positions = append(positions, byte(j))
				total++
			}
		}
		counts[i] = byte(total)
	}
	for len(positions) < omega {
		positions = append(positions, 0)
	}
	copy(out[pos:], positions)
	pos += omega
	copy(out[pos:], counts[:])

	return out, nil
}

// UnmarshalSignature decodes a fixed-width wire form produced by Marshal.
func UnmarshalSignature(data []byte) (Signature, error) {
	if len(data) != SignatureSize {
		return Signature{}, pqcerr.Wrap("sig.UnmarshalSignature", pqcerr.ErrInvalidSignature)
	}
	var sig Signature
	pos := 0
	copy(sig.C[:], data[:32])
	pos += 32

	zBytes := l * n * gamma1Bits / 8
	zRaw := unpackBits(data[pos:pos+zBytes], gamma1Bits, l*n)
	pos += zBytes
	for i := 0; i < l; i++ {
		for j := 0; j < n; j++ {
			sig.Z[i][j] = freezeMod(gamma1 - int64(zRaw[i*n+j]))
		}
	}

	positions := data[pos : pos+omega]
	pos += omega
	counts := data[pos : pos+k]

	prev := byte(0)
	for i := 0; i < k; i++ {
		cnt := counts[i]
		if cnt < prev || int(cnt) > omega {
			return Signature{}, pqcerr.Wrap("sig.UnmarshalSignature", pqcerr.ErrInvalidSignature)
		}
		for idx := prev; idx < cnt; idx++ {
			sig.H[i][positions[idx]] = 1
		}
		prev = cnt
	}

	return sig, nil
}

// VerifyResult reports the outcome of Verify without treating a rejected
// signature as a Go error: cryptographic validation failures are not
// infrastructure errors.
type VerifyResult struct {
	Accepted bool
}

// Verify checks sig against message under pk. An invalid signature yields
// Accepted=false; Verify has no error return. Malformed wire encodings are
// rejected earlier, by UnmarshalSignature.
func Verify(pk PublicKey, message []byte, sig Signature) VerifyResult {
	hintCount := 0
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			if sig.H[i][j] != 0 {
				hintCount++
			}
		}
	}
	if hintCount > omega {
		return VerifyResult{Accepted: false}
	}
	for i := 0; i < l; i++ {
		for j := 0; j < n; j++ {
			zv := centered(sig.Z[i][j])
			if zv >= gamma1-beta || zv <= -(gamma1 - beta) {
				return VerifyResult{Accepted: false}
			}
		}
	}

	a := deriveMatrix(pk.Rho)

	pkBytes := pk.Marshal()
	tr := keccak.SHA3_256(pkBytes[:])
	mu := keccak.SHA3_512(tr[:], message)

	c := sampleInBall(sig.C)

	az := matrixVec(a, sig.Z)

	var w1Prime VecK
	for i := 0; i < k; i++ {
		ct1 := polyMul(c, scaledT1(pk.T1[i]))
		r := polySub(az[i], ct1)
		for j := 0; j < n; j++ {
			w1Prime[i][j] = uint32(useHint(r[j], sig.H[i][j] != 0))
		}
	}

	w1Packed := packPolyVec(w1Prime[:], 4)
	cComputed := keccak.SHA3_256(mu[:], w1Packed)

	return VerifyResult{Accepted: secmem.CTEqual(sig.C[:], cComputed[:])}
}

// scaledT1 returns t1 * 2^d in canonical form, recovering the
// Power2Round-high-bits contribution to t for the verify-side recomputation
// of A*z - c*t1*2^d.
func scaledT1(t1 Poly) Poly {
	var out Poly
	for i, v := range t1 {
		out[i] = freezeMod(int64(v) << dBits)
	}
	return out
}
