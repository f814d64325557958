package share

import (
	"crypto/rand"
	"testing"

	"bbjubjub.fr/age-threshold/internal/vss"
)

func testShare(t *testing.T) vss.Share {
	t.Helper()
	var fk [vss.FileKeySize]byte
	if _, err := rand.Read(fk[:]); err != nil {
		t.Fatal(err)
	}
	shares, _, err := vss.Split(fk, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	return shares[0]
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	s := testShare(t)
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	ciphertext, err := Wrap(s, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(ciphertext) != CiphertextSize {
		t.Fatalf("ciphertext is %d bytes, want %d", len(ciphertext), CiphertextSize)
	}

	got, err := Unwrap(ciphertext, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != s.Index || got.S.Equal(s.S) != 1 || got.T.Equal(s.T) != 1 {
		t.Fatalf("round trip produced a different share")
	}
}

func TestUnwrapRejectsTamperedCiphertext(t *testing.T) {
	s := testShare(t)
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	ciphertext, err := Wrap(s, key)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[0] ^= 0x01

	if _, err := Unwrap(ciphertext, key); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestUnwrapRejectsWrongLength(t *testing.T) {
	if _, err := Unwrap(make([]byte, CiphertextSize-1), make([]byte, KeySize)); err == nil {
		t.Fatal("expected an error for a short ciphertext")
	}
}

func TestBech32RoundTrip(t *testing.T) {
	s := testShare(t)
	encoded, err := EncodeBech32(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBech32(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != s.Index || got.S.Equal(s.S) != 1 || got.T.Equal(s.T) != 1 {
		t.Fatalf("bech32 round trip produced a different share")
	}
}

func TestBech32RejectsWrongPrefix(t *testing.T) {
	if _, err := DecodeBech32("age1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqtjf7dr"); err == nil {
		t.Fatal("expected an error decoding a non-share bech32 string")
	}
}
