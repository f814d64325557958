package threshold

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"filippo.io/age"

	"bbjubjub.fr/age-threshold/internal/format"
	"bbjubjub.fr/age-threshold/internal/payload"
)

func generateIdentities(t *testing.T, n int) ([]age.Identity, []Recipient) {
	t.Helper()
	identities := make([]age.Identity, n)
	recipients := make([]Recipient, n)
	for i := range identities {
		id, err := age.GenerateX25519Identity()
		if err != nil {
			t.Fatal(err)
		}
		identities[i] = id
		recipients[i] = id.Recipient()
	}
	return identities, recipients
}

func TestEncryptDecryptHappyPath(t *testing.T) {
	identities, recipients := generateIdentities(t, 3)
	plaintext := []byte("Hello world!\n")

	var envelope bytes.Buffer
	if err := Encrypt(&envelope, recipients, 2, bytes.NewReader(plaintext)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Any two of the three identities should be able to decrypt.
	subsets := [][]age.Identity{
		{identities[0], identities[1]},
		{identities[0], identities[2]},
		{identities[1], identities[2]},
	}
	for _, subset := range subsets {
		var out bytes.Buffer
		if err := Decrypt(&out, subset, bytes.NewReader(envelope.Bytes())); err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(out.Bytes(), plaintext) {
			t.Fatalf("decrypted %q, want %q", out.Bytes(), plaintext)
		}
	}
}

func TestDecryptShortageError(t *testing.T) {
	identities, recipients := generateIdentities(t, 3)

	var envelope bytes.Buffer
	if err := Encrypt(&envelope, recipients, 2, bytes.NewReader([]byte("secret"))); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := Decrypt(&out, identities[:1], bytes.NewReader(envelope.Bytes()))
	if err == nil {
		t.Fatal("expected a shortage error")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != ShortageError {
		t.Fatalf("got %v, want a ShortageError", err)
	}
}

func TestEncryptRejectsInvalidThreshold(t *testing.T) {
	_, recipients := generateIdentities(t, 2)

	if err := Encrypt(&bytes.Buffer{}, recipients, 0, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected an error for threshold 0")
	}
	if err := Encrypt(&bytes.Buffer{}, recipients, 3, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected an error for threshold greater than the recipient count")
	}
}

func TestTamperedShareCiphertextFailsDecryption(t *testing.T) {
	identities, recipients := generateIdentities(t, 3)

	var envelope bytes.Buffer
	if err := Encrypt(&envelope, recipients, 2, bytes.NewReader([]byte("secret"))); err != nil {
		t.Fatal(err)
	}

	hdr, rest, err := format.Parse(bytes.NewReader(envelope.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	restBytes, err := io.ReadAll(rest)
	if err != nil {
		t.Fatal(err)
	}
	hdr.Shares[0].Ciphertext[0] ^= 0x01

	var tampered bytes.Buffer
	if err := hdr.Marshal(&tampered); err != nil {
		t.Fatal(err)
	}
	tampered.Write(restBytes)

	var out bytes.Buffer
	err = Decrypt(&out, identities[:2], bytes.NewReader(tampered.Bytes()))
	if err == nil {
		t.Fatal("expected an error decrypting a tampered share")
	}
}

func TestEmptyPlaintextRoundTrip(t *testing.T) {
	identities, recipients := generateIdentities(t, 2)

	var envelope bytes.Buffer
	if err := Encrypt(&envelope, recipients, 2, bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Decrypt(&out, identities, bytes.NewReader(envelope.Bytes())); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("got %d bytes, want an empty plaintext", out.Len())
	}
}

func TestChunkBoundaryRoundTrip(t *testing.T) {
	identities, recipients := generateIdentities(t, 2)

	sizes := []int{payload.ChunkSize - 1, payload.ChunkSize, payload.ChunkSize + 1, 10 * payload.ChunkSize}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		if _, err := rand.Read(plaintext); err != nil {
			t.Fatal(err)
		}

		var envelope bytes.Buffer
		if err := Encrypt(&envelope, recipients, 2, bytes.NewReader(plaintext)); err != nil {
			t.Fatalf("size %d: Encrypt: %v", size, err)
		}

		var out bytes.Buffer
		if err := Decrypt(&out, identities, bytes.NewReader(envelope.Bytes())); err != nil {
			t.Fatalf("size %d: Decrypt: %v", size, err)
		}
		if !bytes.Equal(out.Bytes(), plaintext) {
			t.Fatalf("size %d: round trip produced different bytes", size)
		}
	}
}

func TestDecryptRejectsMalformedHeader(t *testing.T) {
	var out bytes.Buffer
	identities, _ := generateIdentities(t, 1)
	err := Decrypt(&out, identities, bytes.NewReader([]byte("not an age-threshold file\n")))
	if err == nil {
		t.Fatal("expected an error for a malformed header")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != ParseError {
		t.Fatalf("got %v, want a ParseError", err)
	}
}
