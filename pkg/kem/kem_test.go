package kem

import (
	"bytes"
	"testing"

	"github.com/danieleschmidt/PQC-Edge-Attestor/pkg/rng"
)

func TestWireSizesMatchSpecification(t *testing.T) {
	if PublicKeySize != 1568 {
		t.Fatalf("PublicKeySize = %d, want 1568", PublicKeySize)
	}
	if SecretKeySize != 3168 {
		t.Fatalf("SecretKeySize = %d, want 3168", SecretKeySize)
	}
	if CiphertextSize != 1568 {
		t.Fatalf("CiphertextSize = %d, want 1568", CiphertextSize)
	}
	if SharedSecretSize != 32 {
		t.Fatalf("SharedSecretSize = %d, want 32", SharedSecretSize)
	}
}

func TestKeyPairRoundTrip(t *testing.T) {
	src := rng.NewCryptoSource()
	pk, sk, err := GenerateKeyPair(src)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	ct, ss1, err := Encapsulate(pk, src)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}

	ss2 := Decapsulate(sk, ct)
	if ss1 != ss2 {
		t.Fatalf("shared secrets diverged: encapsulate=%x decapsulate=%x", ss1, ss2)
	}
}

func TestKeyPairRoundTripMultipleTimes(t *testing.T) {
	src := rng.NewCryptoSource()
	for i := 0; i < 5; i++ {
		pk, sk, err := GenerateKeyPair(src)
		if err != nil {
			t.Fatalf("GenerateKeyPair iteration %d: %v", i, err)
		}
		ct, ss, err := Encapsulate(pk, src)
		if err != nil {
			t.Fatalf("Encapsulate iteration %d: %v", i, err)
		}
		if got := Decapsulate(sk, ct); got != ss {
			t.Fatalf("iteration %d: Decapsulate mismatch", i)
		}
	}
}

func TestDecapsulateInvalidCiphertextIsTotalAndDeterministic(t *testing.T) {
	src := rng.NewCryptoSource()
	_, sk, err := GenerateKeyPair(src)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	var garbage Ciphertext
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}

	first := Decapsulate(sk, garbage)
	second := Decapsulate(sk, garbage)
	if first != second {
		t.Fatal("Decapsulate on an invalid ciphertext is not deterministic in (sk, ct)")
	}
	if len(first) != 32 {
		t.Fatalf("Decapsulate output length = %d, want 32", len(first))
	}
}

func TestDecapsulateRejectsDifferentFromAccept(t *testing.T) {
	src := rng.NewCryptoSource()
	pk, sk, err := GenerateKeyPair(src)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	ct, ss, err := Encapsulate(pk, src)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}

	tampered := ct
	tampered[0] ^= 0xFF

	got := Decapsulate(sk, tampered)
	if got == ss {
		t.Fatal("tampered ciphertext produced the same shared secret as the valid one")
	}
}

func TestMarshalUnmarshalPublicKey(t *testing.T) {
	src := rng.NewCryptoSource()
	pk, _, err := GenerateKeyPair(src)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	encoded := pk.Marshal()
	decoded, err := UnmarshalPublicKey(encoded[:])
	if err != nil {
		t.Fatalf("UnmarshalPublicKey: %v", err)
	}
	reEncoded := decoded.Marshal()
	if !bytes.Equal(encoded[:], reEncoded[:]) {
		t.Fatal("public key did not round-trip through Marshal/Unmarshal")
	}
}

func TestMarshalUnmarshalSecretKey(t *testing.T) {
	src := rng.NewCryptoSource()
	_, sk, err := GenerateKeyPair(src)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	encoded := sk.Marshal()
	decoded, err := UnmarshalSecretKey(encoded[:])
	if err != nil {
		t.Fatalf("UnmarshalSecretKey: %v", err)
	}
	reEncoded := decoded.Marshal()
	if !bytes.Equal(encoded[:], reEncoded[:]) {
		t.Fatal("secret key did not round-trip through Marshal/Unmarshal")
	}
}

func TestGenerateKeyPairPropagatesRngFailure(t *testing.T) {
	_, _, err := GenerateKeyPair(failingSource{})
	if err == nil {
		t.Fatal("expected error from a failing random source")
	}
}

type failingSource struct{}

func (failingSource) Fill(buf []byte) error {
	return errAlways
}

var errAlways = &simpleErr{"forced failure"}

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }
