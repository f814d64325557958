// Package inspect parses just the envelope header for diagnostic display,
// without attempting any share unwrap.
package inspect

import (
	"bytes"
	"fmt"
	"io"

	"bbjubjub.fr/age-threshold/internal/format"
)

// Metadata summarizes an age-threshold header without touching any
// recipient or identity capability.
type Metadata struct {
	Version     string
	Threshold   uint32
	Shares      int
	StanzaTypes [][]string // one slice of recipient-stanza types per share

	Sizes struct {
		Header  int64
		Payload int64 // on-wire size of the encrypted payload that follows the header
	}
}

// Inspect parses the header read from r and reports its shape. It consumes
// r to EOF: the payload that follows the header is read and counted, but
// never decrypted, since inspection is meant to work without any identity.
func Inspect(r io.Reader) (*Metadata, error) {
	hdr, rest, err := format.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	data := &Metadata{
		Version:   "bbjubjub.fr/age-threshold/v0",
		Threshold: hdr.Threshold,
		Shares:    len(hdr.Shares),
	}
	for _, es := range hdr.Shares {
		var types []string
		for _, s := range es.Stanzas {
			types = append(types, s.Type)
		}
		data.StanzaTypes = append(data.StanzaTypes, types)
	}

	buf := &bytes.Buffer{}
	if err := hdr.Marshal(buf); err != nil {
		return nil, fmt.Errorf("failed to re-serialize header: %w", err)
	}
	data.Sizes.Header = int64(buf.Len())

	payloadSize, err := io.Copy(io.Discard, rest)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	data.Sizes.Payload = payloadSize

	return data, nil
}
