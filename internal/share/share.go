// Package share implements the on-wire encoding of a single VSS share: a
// fixed 68-byte plaintext record, AEAD-wrapped under a per-share key, plus
// an optional bech32 form for exporting one share on its own.
package share

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/gtank/ristretto255"

	"bbjubjub.fr/age-threshold/internal/vss"
)

const (
	// PlaintextSize is the length of the serialized index||s||t record.
	PlaintextSize = 4 + 32 + 32
	// CiphertextSize is PlaintextSize plus the Poly1305 tag.
	CiphertextSize = PlaintextSize + chacha20poly1305.Overhead
	// KeySize is the length of the random per-share AEAD key.
	KeySize = 16

	bech32HRP = "age-threshold-share-"
)

// Marshal serializes a share as index(4 LE) || s(32) || t(32).
func Marshal(s vss.Share) []byte {
	buf := make([]byte, 4, PlaintextSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Index)
	buf = s.S.Encode(buf)
	buf = s.T.Encode(buf)
	return buf
}

// Unmarshal parses a share from its 68-byte serialization.
func Unmarshal(buf []byte) (vss.Share, error) {
	if len(buf) != PlaintextSize {
		return vss.Share{}, fmt.Errorf("share: malformed record: want %d bytes, got %d", PlaintextSize, len(buf))
	}
	s := ristretto255.NewScalar()
	if err := s.Decode(buf[4:36]); err != nil {
		return vss.Share{}, fmt.Errorf("share: decoding s: %w", err)
	}
	t := ristretto255.NewScalar()
	if err := t.Decode(buf[36:68]); err != nil {
		return vss.Share{}, fmt.Errorf("share: decoding t: %w", err)
	}
	return vss.Share{
		Index: binary.LittleEndian.Uint32(buf[0:4]),
		S:     s,
		T:     t,
	}, nil
}

func deriveKey(shareKey []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, shareKey, nil, nil)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("share: deriving AEAD key: %w", err)
	}
	return key, nil
}

// Wrap AEAD-encrypts a share's serialization under shareKey, producing the
// 84-byte on-wire ciphertext that sits in a "share" stanza body.
func Wrap(s vss.Share, shareKey []byte) ([]byte, error) {
	key, err := deriveKey(shareKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("share: constructing AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, Marshal(s), nil), nil
}

// Unwrap reverses Wrap: it decrypts ciphertext under shareKey and parses the
// resulting plaintext into a Share.
func Unwrap(ciphertext, shareKey []byte) (vss.Share, error) {
	if len(ciphertext) != CiphertextSize {
		return vss.Share{}, fmt.Errorf("share: malformed ciphertext: want %d bytes, got %d", CiphertextSize, len(ciphertext))
	}
	key, err := deriveKey(shareKey)
	if err != nil {
		return vss.Share{}, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return vss.Share{}, fmt.Errorf("share: constructing AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return vss.Share{}, fmt.Errorf("share: authentication failed, file may be corrupted or tampered with: %w", err)
	}
	return Unmarshal(plaintext)
}

// EncodeBech32 exports a single share as a self-contained bech32 string
// with the human-readable part "age-threshold-share-", so a recovered
// share can be handed to a co-signer out of band.
func EncodeBech32(s vss.Share) (string, error) {
	data := Marshal(s)
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("share: converting bits for bech32: %w", err)
	}
	encoded, err := bech32.Encode(bech32HRP, converted)
	if err != nil {
		return "", fmt.Errorf("share: encoding bech32: %w", err)
	}
	return encoded, nil
}

// DecodeBech32 parses a share previously produced by EncodeBech32.
func DecodeBech32(s string) (vss.Share, error) {
	// An encoded share is longer than the 90 characters bech32.Decode
	// accepts, so the length limit is not applied here.
	hrp, converted, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return vss.Share{}, fmt.Errorf("share: decoding bech32: %w", err)
	}
	if hrp != bech32HRP {
		return vss.Share{}, fmt.Errorf("share: unexpected bech32 prefix %q, want %q", hrp, bech32HRP)
	}
	data, err := bech32.ConvertBits(converted, 5, 8, false)
	if err != nil {
		return vss.Share{}, fmt.Errorf("share: converting bits from bech32: %w", err)
	}
	return Unmarshal(data)
}
