package keccak

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSHA3_256_abc(t *testing.T) {
	want, err := hex.DecodeString("3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532")
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}
	got := SHA3_256([]byte("abc"))
	if !bytes.Equal(got[:], want) {
		t.Fatalf("SHA3-256(\"abc\") = %x, want %x", got, want)
	}
}

func TestSHA3_256_empty(t *testing.T) {
	want, err := hex.DecodeString("a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a")
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}
	got := SHA3_256([]byte{})
	if !bytes.Equal(got[:], want) {
		t.Fatalf("SHA3-256(\"\") = %x, want %x", got, want)
	}
}

func TestSHA3_256_Deterministic(t *testing.T) {
	input := []byte("deterministic input")
	a := SHA3_256(input)
	b := SHA3_256(input)
	if a != b {
		t.Fatal("SHA3-256 is not deterministic")
	}
}

func TestSHA3_256_AvalancheOverFlippedBits(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	baseDigest := SHA3_256(base)

	for i := 0; i < len(base); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(base))
			copy(flipped, base)
			flipped[i] ^= 1 << uint(bit)

			d := SHA3_256(flipped)
			if d == baseDigest {
				t.Fatalf("flipping bit %d of byte %d produced the same digest", bit, i)
			}
		}
	}
}

func TestSHA3_512_Length(t *testing.T) {
	d := SHA3_512([]byte("abc"))
	if len(d) != 64 {
		t.Fatalf("SHA3-512 digest length = %d, want 64", len(d))
	}
}

func TestSHA3_HashTwoIdiomMatchesConcatenation(t *testing.T) {
	a := []byte("part-one-")
	b := []byte("part-two")
	concatenated := append(append([]byte{}, a...), b...)

	want := SHA3_256(concatenated)
	got := SHA3_256(a, b)
	if got != want {
		t.Fatalf("SHA3_256(a, b) = %x, want %x", got, want)
	}
}

func TestShake128_LengthAndDeterminism(t *testing.T) {
	out1, err := Shake128(64, []byte("seed"))
	if err != nil {
		t.Fatalf("Shake128: %v", err)
	}
	if len(out1) != 64 {
		t.Fatalf("Shake128 output length = %d, want 64", len(out1))
	}
	out2, err := Shake128(64, []byte("seed"))
	if err != nil {
		t.Fatalf("Shake128: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("Shake128 is not deterministic")
	}

	allZero := true
	for _, b := range out1 {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("Shake128 output is all zero")
	}
}

func TestShake256_ExtraInputIsDomainSeparating(t *testing.T) {
	out1, err := Shake256(32, []byte("seed"), []byte{0x00})
	if err != nil {
		t.Fatalf("Shake256: %v", err)
	}
	out2, err := Shake256(32, []byte("seed"), []byte{0x01})
	if err != nil {
		t.Fatalf("Shake256: %v", err)
	}
	if bytes.Equal(out1, out2) {
		t.Fatal("Shake256 with different nonces produced identical output")
	}
}

func TestShake256_LongerOutputExtendsShorterOutput(t *testing.T) {
	short, err := Shake256(32, []byte("prefix-test"))
	if err != nil {
		t.Fatalf("Shake256: %v", err)
	}
	long, err := Shake256(128, []byte("prefix-test"))
	if err != nil {
		t.Fatalf("Shake256: %v", err)
	}
	if !bytes.Equal(short, long[:32]) {
		t.Fatal("SHAKE output is not a prefix-extendable stream")
	}
}

func TestShakeRejectsOutOfRangeLength(t *testing.T) {
	if _, err := Shake128(0, []byte("x")); err == nil {
		t.Fatal("expected error for zero-length output")
	}
	if _, err := Shake256(65537, []byte("x")); err == nil {
		t.Fatal("expected error for output exceeding 65536 bytes")
	}
}

func TestSpongeAbsorbAcrossMultipleBlocks(t *testing.T) {
	// Feed more than one rate's worth of data in small chunks and check
	// the result matches a single-shot absorb of the same bytes.
	data := bytes.Repeat([]byte{0x5a}, RateSHA3_256*3+17)

	one := NewSponge(RateSHA3_256, suffixSHA3)
	one.Absorb(data)
	wantOut := one.Squeeze(32)

	chunked := NewSponge(RateSHA3_256, suffixSHA3)
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		chunked.Absorb(data[i:end])
	}
	gotOut := chunked.Squeeze(32)

	if !bytes.Equal(wantOut, gotOut) {
		t.Fatal("chunked absorb diverged from single-shot absorb")
	}
}
