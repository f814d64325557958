package main

import (
	"bufio"
	"fmt"
	"io"

	"filippo.io/age/armor"

	"bbjubjub.fr/age-threshold/internal/ageio"
	"bbjubjub.fr/age-threshold/internal/format"
	"bbjubjub.fr/age-threshold/internal/share"
	"bbjubjub.fr/age-threshold/internal/vss"
)

// runExportShare recovers and prints, as a single bech32 string, the first
// share any of the given identities can unwrap from in. It's meant for
// pulling one recovered share out of a decrypt session that doesn't (yet)
// have enough identities to reach the threshold, so it can be carried to a
// co-signer out of band.
func runExportShare(keys multiFlag, in io.Reader, out io.Writer) {
	identities, err := parseIdentitiesFiles(keys)
	if err != nil {
		errorf("%v", err)
	}

	rr := bufio.NewReader(in)
	if start, _ := rr.Peek(len(armor.Header)); string(start) == armor.Header {
		in = armor.NewReader(rr)
	} else {
		in = rr
	}

	hdr, _, err := format.Parse(in)
	if err != nil {
		errorf("%v", err)
	}

	for i, es := range hdr.Shares {
		shareKey, unwrapped, err := ageio.TryUnwrap(identities, es.Stanzas)
		if err != nil {
			errorf("%v", err)
		}
		if !unwrapped {
			continue
		}

		s, err := share.Unwrap(es.Ciphertext, shareKey)
		if err != nil {
			errorf("decrypting share %d: %v", i+1, err)
		}
		s.Index = uint32(i + 1)
		if !vss.Verify(s, hdr.Commitments) {
			errorf("share %d failed verification against commitments", i+1)
		}

		encoded, err := share.EncodeBech32(s)
		if err != nil {
			errorf("encoding share %d: %v", i+1, err)
		}
		fmt.Fprintln(out, encoded)
		return
	}

	errorf("none of the provided identities could recover a share from this file")
}
