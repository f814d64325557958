package inspect

import (
	"bytes"
	"crypto/rand"
	"testing"

	"bbjubjub.fr/age-threshold/internal/format"
	"bbjubjub.fr/age-threshold/internal/share"
	"bbjubjub.fr/age-threshold/internal/vss"
)

func sampleEnvelope(t *testing.T) []byte {
	t.Helper()
	var fk [vss.FileKeySize]byte
	if _, err := rand.Read(fk[:]); err != nil {
		t.Fatal(err)
	}
	shares, commitments, err := vss.Split(fk, 2, 3)
	if err != nil {
		t.Fatal(err)
	}

	h := &format.Header{Threshold: 2, Commitments: commitments}
	for i, s := range shares {
		key := make([]byte, share.KeySize)
		if _, err := rand.Read(key); err != nil {
			t.Fatal(err)
		}
		ciphertext, err := share.Wrap(s, key)
		if err != nil {
			t.Fatal(err)
		}
		h.Shares = append(h.Shares, format.EncShare{
			Ciphertext: ciphertext,
			Stanzas: []*format.Stanza{
				{Type: "X25519", Args: []string{"fakeEphemeralKey"}, Body: bytes.Repeat([]byte{byte(i)}, 32)},
			},
		})
	}

	var buf bytes.Buffer
	if err := h.Marshal(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("the encrypted payload would go here")
	return buf.Bytes()
}

const samplePayloadSuffix = "the encrypted payload would go here"

func TestInspect(t *testing.T) {
	envelope := sampleEnvelope(t)

	meta, err := Inspect(bytes.NewReader(envelope))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if meta.Threshold != 2 {
		t.Fatalf("threshold = %d, want 2", meta.Threshold)
	}
	if meta.Shares != 3 {
		t.Fatalf("shares = %d, want 3", meta.Shares)
	}
	if len(meta.StanzaTypes) != 3 {
		t.Fatalf("got %d stanza-type entries, want 3", len(meta.StanzaTypes))
	}
	for i, kinds := range meta.StanzaTypes {
		if len(kinds) != 1 || kinds[0] != "X25519" {
			t.Fatalf("share %d stanza types = %v, want [X25519]", i, kinds)
		}
	}
	if meta.Sizes.Header <= 0 {
		t.Fatalf("header size = %d, want positive", meta.Sizes.Header)
	}
	if meta.Sizes.Header >= int64(len(envelope)) {
		t.Fatalf("header size %d should be smaller than the whole envelope (%d)", meta.Sizes.Header, len(envelope))
	}
	if want := int64(len(samplePayloadSuffix)); meta.Sizes.Payload != want {
		t.Fatalf("payload size = %d, want %d", meta.Sizes.Payload, want)
	}
	if meta.Sizes.Header+meta.Sizes.Payload != int64(len(envelope)) {
		t.Fatalf("header (%d) + payload (%d) != envelope size (%d)", meta.Sizes.Header, meta.Sizes.Payload, len(envelope))
	}
}

func TestInspectRejectsMalformedHeader(t *testing.T) {
	_, err := Inspect(bytes.NewReader([]byte("not an age-threshold file\n")))
	if err == nil {
		t.Fatal("expected an error for a malformed header")
	}
}
