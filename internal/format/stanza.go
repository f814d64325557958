// Package format implements the age-threshold envelope grammar: the
// version line, the threshold and commitments stanzas, repeated
// per-share stanza groups, and the terminator line.
package format

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Stanza is a single age-style wire record: "-> " tag (SP arg)* NL,
// followed by a base64-wrapped, 64-column body.
type Stanza struct {
	Type string
	Args []string
	Body []byte
}

// b64 is the raw (unpadded) base64 alphabet age uses for stanza bodies.
var b64 = base64.RawStdEncoding.Strict()

func decodeBodyLine(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\n\r") {
		return nil, errors.New("unexpected newline character")
	}
	return b64.DecodeString(s)
}

const columnsPerLine = 64
const bytesPerLine = columnsPerLine / 4 * 3

var stanzaPrefix = []byte("->")

// Marshal writes the stanza in age's on-wire form.
func (s *Stanza) Marshal(w io.Writer) error {
	if _, err := w.Write(stanzaPrefix); err != nil {
		return err
	}
	for _, a := range append([]string{s.Type}, s.Args...) {
		if _, err := io.WriteString(w, " "+a); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if len(s.Body) == 0 {
		return nil
	}
	ww := base64.NewEncoder(b64, &newlineWriter{dst: w})
	if _, err := ww.Write(s.Body); err != nil {
		return err
	}
	if err := ww.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

type newlineWriter struct {
	dst     io.Writer
	written int
}

func (w *newlineWriter) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		remainingInLine := columnsPerLine - (w.written % columnsPerLine)
		if remainingInLine == columnsPerLine && w.written != 0 {
			if _, err := w.dst.Write([]byte("\n")); err != nil {
				return n, err
			}
		}
		toWrite := remainingInLine
		if toWrite > len(p) {
			toWrite = len(p)
		}
		nn, err := w.dst.Write(p[:toWrite])
		n += nn
		w.written += nn
		p = p[nn:]
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func splitArgs(line []byte) (string, []string) {
	l := strings.TrimSuffix(string(line), "\n")
	parts := strings.Split(l, " ")
	return parts[0], parts[1:]
}

func isValidString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}

// readStanza reads one stanza from rr, which must be positioned at the
// start of a "-> " line. It returns a malformed-stanza error if the line
// does not start a stanza (the caller is expected to have already peeked
// for the terminator).
func readStanza(rr *bufio.Reader) (*Stanza, error) {
	line, err := rr.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read stanza: %w", err)
	}
	prefix, args := splitArgs(line)
	if prefix != string(stanzaPrefix) || len(args) < 1 {
		return nil, fmt.Errorf("malformed stanza: %q", line)
	}
	for _, a := range args {
		if !isValidString(a) {
			return nil, fmt.Errorf("malformed stanza: %q", line)
		}
	}
	s := &Stanza{Type: args[0], Args: args[1:]}

	for {
		peek, _ := rr.Peek(1)
		if len(peek) == 0 || peek[0] == '-' {
			// Either EOF, or the next stanza / terminator line.
			break
		}
		bodyLine, err := rr.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read stanza body: %w", err)
		}
		b, err := decodeBodyLine(strings.TrimSuffix(string(bodyLine), "\n"))
		if err != nil {
			return nil, fmt.Errorf("malformed body line %q: %w", bodyLine, err)
		}
		if len(b) > bytesPerLine {
			return nil, fmt.Errorf("malformed body line %q: too long", bodyLine)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("malformed body line %q: line is empty", bodyLine)
		}
		s.Body = append(s.Body, b...)
		if len(b) < bytesPerLine {
			// Only the last line of a body can be short.
			break
		}
	}
	return s, nil
}
