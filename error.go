package threshold

import "fmt"

// Kind classifies why an Encrypt or Decrypt call failed.
type Kind int

const (
	// ConfigError covers bad caller input: -e with -d, fewer recipients
	// than the threshold, an empty recipient list, a malformed bech32
	// recipient or identity string.
	ConfigError Kind = iota
	// ParseError covers a malformed header: bad version line, wrong
	// stanza order, unparseable threshold, a commitments-count
	// mismatch, or a share ciphertext of the wrong length.
	ParseError
	// CryptoError covers AEAD authentication failures (per-share or
	// payload) and VSS share-verification failures.
	CryptoError
	// CapabilityError covers a recipient wrap producing zero stanzas, a
	// missing plugin, or an identity unwrap that claims a stanza but
	// fails outright.
	CapabilityError
	// ShortageError means fewer than the threshold's worth of shares
	// could be recovered from the local identities.
	ShortageError
	// IoError covers underlying read/write failures and unexpected EOF.
	IoError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "config error"
	case ParseError:
		return "parse error"
	case CryptoError:
		return "crypto error"
	case CapabilityError:
		return "capability error"
	case ShortageError:
		return "shortage error"
	case IoError:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is the single error type returned by this package's exported
// functions. Every failure is classified into one of the Kinds above.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}
