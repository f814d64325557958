package format

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"

	"github.com/gtank/ristretto255"

	"bbjubjub.fr/age-threshold/internal/share"
)

const shareCiphertextSize = share.CiphertextSize

const versionLine = "bbjubjub.fr/age-threshold/v0\n"

// commitmentB64 is the standard, padded base64 alphabet used for
// commitments stanza arguments. Stanza bodies, by contrast, use age's own
// raw/unpadded, 64-column-wrapped convention (see stanza.go).
var commitmentB64 = base64.StdEncoding

// EncShare is a "share" stanza group: the wrapped share ciphertext plus
// every recipient stanza produced for that share.
type EncShare struct {
	Ciphertext []byte
	Stanzas    []*Stanza
}

// Header is the fully parsed age-threshold envelope header.
type Header struct {
	Threshold   uint32
	Commitments []*ristretto255.Element
	Shares      []EncShare
}

// ParseError is returned for any malformed header.
type ParseError string

func (e ParseError) Error() string { return "parsing age-threshold header: " + string(e) }

func errorf(format string, a ...interface{}) error {
	return ParseError(fmt.Sprintf(format, a...))
}

// Marshal writes the header, including the version line and the bare
// terminator. There is no MAC: the terminator line is always "---\n".
func (h *Header) Marshal(w io.Writer) error {
	if _, err := io.WriteString(w, versionLine); err != nil {
		return err
	}

	threshold := &Stanza{Type: "threshold", Args: []string{strconv.FormatUint(uint64(h.Threshold), 10)}}
	if err := threshold.Marshal(w); err != nil {
		return err
	}

	commitArgs := make([]string, len(h.Commitments))
	for i, c := range h.Commitments {
		commitArgs[i] = commitmentB64.EncodeToString(c.Encode(nil))
	}
	commitments := &Stanza{Type: "commitments", Args: commitArgs}
	if err := commitments.Marshal(w); err != nil {
		return err
	}

	for _, es := range h.Shares {
		share := &Stanza{Type: "share", Body: es.Ciphertext}
		if err := share.Marshal(w); err != nil {
			return err
		}
		for _, s := range es.Stanzas {
			if err := s.Marshal(w); err != nil {
				return err
			}
		}
	}

	_, err := io.WriteString(w, "---\n")
	return err
}

// Parse reads the header and returns a Reader positioned at the start of
// the payload.
func Parse(input io.Reader) (*Header, io.Reader, error) {
	h := &Header{}
	rr := bufio.NewReader(input)

	line, err := rr.ReadString('\n')
	if err != nil {
		return nil, nil, errorf("failed to read version line: %v", err)
	}
	if line != versionLine {
		return nil, nil, errorf("unexpected version line: %q", line)
	}

	threshold, err := readStanza(rr)
	if err != nil {
		return nil, nil, errorf("reading threshold stanza: %v", err)
	}
	if threshold.Type != "threshold" || len(threshold.Args) != 1 {
		return nil, nil, errorf("expected a single threshold stanza, got %q", threshold.Type)
	}
	k, err := strconv.ParseUint(threshold.Args[0], 10, 32)
	if err != nil || k == 0 {
		return nil, nil, errorf("malformed threshold %q: %v", threshold.Args[0], err)
	}
	h.Threshold = uint32(k)

	commitments, err := readStanza(rr)
	if err != nil {
		return nil, nil, errorf("reading commitments stanza: %v", err)
	}
	if commitments.Type != "commitments" {
		return nil, nil, errorf("expected a commitments stanza, got %q", commitments.Type)
	}
	if uint64(len(commitments.Args)) != k {
		return nil, nil, errorf("commitments count %d does not match threshold %d", len(commitments.Args), k)
	}
	h.Commitments = make([]*ristretto255.Element, len(commitments.Args))
	for i, arg := range commitments.Args {
		raw, err := commitmentB64.DecodeString(arg)
		if err != nil {
			return nil, nil, errorf("malformed commitment %d: %v", i, err)
		}
		c := ristretto255.NewElement()
		if err := c.Decode(raw); err != nil {
			return nil, nil, errorf("invalid commitment point %d: %v", i, err)
		}
		h.Commitments[i] = c
	}

	var current *EncShare
	for {
		peek, err := rr.Peek(3)
		if err != nil {
			return nil, nil, errorf("failed to read header: %v", err)
		}
		if bytes.Equal(peek, []byte("---")) {
			if _, err := rr.ReadString('\n'); err != nil {
				return nil, nil, errorf("failed to read terminator: %v", err)
			}
			break
		}

		s, err := readStanza(rr)
		if err != nil {
			return nil, nil, errorf("reading share stanza: %v", err)
		}
		if s.Type == "share" {
			if len(s.Body) != shareCiphertextSize {
				return nil, nil, errorf("share ciphertext is %d bytes, want %d", len(s.Body), shareCiphertextSize)
			}
			h.Shares = append(h.Shares, EncShare{Ciphertext: s.Body})
			current = &h.Shares[len(h.Shares)-1]
		} else {
			if current == nil {
				return nil, nil, errorf("orphan recipient stanza %q with no preceding share", s.Type)
			}
			current.Stanzas = append(current.Stanzas, s)
		}
	}

	if uint64(len(h.Shares)) < k {
		return nil, nil, errorf("only %d shares in header, threshold is %d", len(h.Shares), k)
	}
	for i, es := range h.Shares {
		if len(es.Stanzas) == 0 {
			return nil, nil, errorf("share %d has no recipient stanzas", i+1)
		}
	}

	// Unwind the bufio overread and return the unbuffered input.
	buf, err := rr.Peek(rr.Buffered())
	if err != nil {
		return nil, nil, errorf("internal error: %v", err)
	}
	payload := io.MultiReader(bytes.NewReader(buf), input)

	return h, payload, nil
}
