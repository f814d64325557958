package format

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"bbjubjub.fr/age-threshold/internal/share"
	"bbjubjub.fr/age-threshold/internal/vss"
)

func sampleHeader(t *testing.T) *Header {
	t.Helper()
	var fk [vss.FileKeySize]byte
	if _, err := rand.Read(fk[:]); err != nil {
		t.Fatal(err)
	}
	shares, commitments, err := vss.Split(fk, 2, 3)
	if err != nil {
		t.Fatal(err)
	}

	h := &Header{Threshold: 2, Commitments: commitments}
	for i, s := range shares {
		key := make([]byte, share.KeySize)
		if _, err := rand.Read(key); err != nil {
			t.Fatal(err)
		}
		ciphertext, err := share.Wrap(s, key)
		if err != nil {
			t.Fatal(err)
		}
		h.Shares = append(h.Shares, EncShare{
			Ciphertext: ciphertext,
			Stanzas: []*Stanza{
				{Type: "X25519", Args: []string{"fakeEphemeralKey"}, Body: bytes.Repeat([]byte{byte(i)}, 32)},
			},
		})
	}
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader(t)

	var buf bytes.Buffer
	if err := h.Marshal(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("PAYLOAD-FOLLOWS")

	got, rest, err := Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Threshold != h.Threshold {
		t.Fatalf("threshold = %d, want %d", got.Threshold, h.Threshold)
	}
	if len(got.Commitments) != len(h.Commitments) {
		t.Fatalf("got %d commitments, want %d", len(got.Commitments), len(h.Commitments))
	}
	for i := range h.Commitments {
		if got.Commitments[i].Equal(h.Commitments[i]) != 1 {
			t.Fatalf("commitment %d mismatch", i)
		}
	}
	if len(got.Shares) != len(h.Shares) {
		t.Fatalf("got %d share groups, want %d", len(got.Shares), len(h.Shares))
	}
	for i, es := range got.Shares {
		if !bytes.Equal(es.Ciphertext, h.Shares[i].Ciphertext) {
			t.Fatalf("share %d ciphertext mismatch", i)
		}
		if len(es.Stanzas) != 1 || es.Stanzas[0].Type != "X25519" {
			t.Fatalf("share %d stanzas mismatch: %+v", i, es.Stanzas)
		}
	}

	remainder, err := io.ReadAll(rest)
	if err != nil {
		t.Fatal(err)
	}
	if string(remainder) != "PAYLOAD-FOLLOWS" {
		t.Fatalf("payload reader returned %q", remainder)
	}
}

func TestParseRejectsBadVersionLine(t *testing.T) {
	if _, _, err := Parse(bytes.NewBufferString("not-the-right-version/v0\n")); err == nil {
		t.Fatal("expected an error for a bad version line")
	}
}

func TestParseRejectsCommitmentsCountMismatch(t *testing.T) {
	h := sampleHeader(t)
	h.Commitments = h.Commitments[:1] // threshold says 2, but only 1 commitment

	var buf bytes.Buffer
	if err := h.Marshal(&buf); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Parse(&buf); err == nil {
		t.Fatal("expected an error for commitments count mismatch")
	}
}

func TestParseRejectsOrphanRecipientStanza(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(versionLine)
	(&Stanza{Type: "threshold", Args: []string{"1"}}).Marshal(&buf)
	(&Stanza{Type: "commitments", Args: []string{commitmentB64.EncodeToString(make([]byte, 32))}}).Marshal(&buf)
	(&Stanza{Type: "X25519", Args: []string{"x"}, Body: []byte("body")}).Marshal(&buf)
	buf.WriteString("---\n")

	if _, _, err := Parse(&buf); err == nil {
		t.Fatal("expected an error for an orphan recipient stanza")
	}
}

func TestParseRejectsWrongCiphertextLength(t *testing.T) {
	h := sampleHeader(t)
	h.Shares[0].Ciphertext = h.Shares[0].Ciphertext[:len(h.Shares[0].Ciphertext)-1]

	var buf bytes.Buffer
	if err := h.Marshal(&buf); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Parse(&buf); err == nil {
		t.Fatal("expected an error for a short share ciphertext")
	}
}

func TestParseRejectsFewerSharesThanThreshold(t *testing.T) {
	h := sampleHeader(t)
	h.Shares = h.Shares[:1] // threshold 2, only 1 share group

	var buf bytes.Buffer
	if err := h.Marshal(&buf); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Parse(&buf); err == nil {
		t.Fatal("expected an error for fewer shares than threshold")
	}
}
