// Package threshold implements threshold encryption within the age
// file-encryption ecosystem: a sender encrypts a payload to n recipients
// such that any k of them, cooperating with their identities, can recover
// the plaintext.
package threshold

import (
	"crypto/rand"
	"io"

	"filippo.io/age"

	"bbjubjub.fr/age-threshold/internal/ageio"
	"bbjubjub.fr/age-threshold/internal/format"
	"bbjubjub.fr/age-threshold/internal/payload"
	"bbjubjub.fr/age-threshold/internal/share"
	"bbjubjub.fr/age-threshold/internal/vss"
)

// Recipient and Identity are the age recipient/identity capabilities this
// package delegates wrap/unwrap to; it never implements them itself.
type Recipient = age.Recipient
type Identity = age.Identity

// Encrypt splits a fresh file key into len(recipients) shares under a
// k-of-n Pedersen VSS, wraps each share to its recipient, writes the
// envelope header, and streams in through the chunked payload cipher to
// out.
func Encrypt(out io.Writer, recipients []Recipient, k int, in io.Reader) error {
	n := len(recipients)
	if k <= 0 || n < k {
		return newError(ConfigError, nil, "threshold %d is invalid for %d recipients", k, n)
	}

	var fileKey [vss.FileKeySize]byte
	if _, err := rand.Read(fileKey[:]); err != nil {
		return newError(IoError, err, "generating file key")
	}

	shares, commitments, err := vss.Split(fileKey, k, n)
	if err != nil {
		return newError(CryptoError, err, "splitting file key")
	}

	hdr := &format.Header{Threshold: uint32(k), Commitments: commitments}
	for i, s := range shares {
		shareKey := make([]byte, share.KeySize)
		if _, err := rand.Read(shareKey); err != nil {
			return newError(IoError, err, "generating per-share key")
		}
		ciphertext, err := share.Wrap(s, shareKey)
		if err != nil {
			return newError(CryptoError, err, "wrapping share %d", i+1)
		}
		stanzas, err := ageio.Wrap(recipients[i], shareKey)
		if err != nil {
			return newError(CapabilityError, err, "wrapping share key for recipient %d", i+1)
		}
		if len(stanzas) == 0 {
			return newError(CapabilityError, nil, "recipient %d produced no stanzas", i+1)
		}
		hdr.Shares = append(hdr.Shares, format.EncShare{Ciphertext: ciphertext, Stanzas: stanzas})
	}

	if err := hdr.Marshal(out); err != nil {
		return newError(IoError, err, "writing header")
	}

	w := payload.NewWriter(fileKey, out)
	if _, err := io.Copy(w, in); err != nil {
		return newError(IoError, err, "encrypting payload")
	}
	if err := w.Close(); err != nil {
		return newError(IoError, err, "flushing payload")
	}
	return nil
}

// Decrypt parses the envelope header, harvests shares from the provided
// identities until the threshold is met, reconstructs the file key, and
// streams the decrypted payload to out.
func Decrypt(out io.Writer, identities []Identity, in io.Reader) error {
	if len(identities) == 0 {
		return newError(ConfigError, nil, "no identities provided")
	}

	hdr, rest, err := format.Parse(in)
	if err != nil {
		return newError(ParseError, err, "parsing header")
	}

	var collected []vss.Share
	for i, es := range hdr.Shares {
		if uint32(len(collected)) == hdr.Threshold {
			break
		}

		shareKey, unwrapped, err := ageio.TryUnwrap(identities, es.Stanzas)
		if err != nil {
			return newError(CapabilityError, err, "identity unwrap failed")
		}
		if !unwrapped {
			continue
		}

		s, err := share.Unwrap(es.Ciphertext, shareKey)
		if err != nil {
			return newError(CryptoError, err, "decrypting share %d", i+1)
		}
		s.Index = uint32(i + 1) // positional, per the wire format

		if !vss.Verify(s, hdr.Commitments) {
			return newError(CryptoError, nil, "share %d failed verification against commitments", i+1)
		}
		collected = append(collected, s)
	}

	if uint32(len(collected)) < hdr.Threshold {
		return newError(ShortageError, nil, "recovered %d of %d required shares", len(collected), hdr.Threshold)
	}

	fileKey, err := vss.Reconstruct(collected)
	if err != nil {
		return newError(CryptoError, err, "reconstructing file key")
	}

	r := payload.NewReader(fileKey, rest)
	if _, err := io.Copy(out, r); err != nil {
		return newError(IoError, err, "decrypting payload")
	}
	return nil
}
