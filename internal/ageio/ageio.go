// Package ageio adapts filippo.io/age recipients and identities, including
// age plugins, to the age-threshold per-share stanza groups. The age
// recipient/identity ecosystem itself is treated as an opaque external
// capability: this package only converts between its wire types and ours
// and dispatches recipient/identity strings to the right constructor.
package ageio

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
	"filippo.io/age/plugin"

	"bbjubjub.fr/age-threshold/internal/format"
)

// ErrIncorrectIdentity is returned by Unwrap when an identity doesn't match
// the given stanzas, mirroring age.ErrIncorrectIdentity.
var ErrIncorrectIdentity = age.ErrIncorrectIdentity

func toAgeStanzas(stanzas []*format.Stanza) []*age.Stanza {
	out := make([]*age.Stanza, len(stanzas))
	for i, s := range stanzas {
		out[i] = &age.Stanza{Type: s.Type, Args: s.Args, Body: s.Body}
	}
	return out
}

func fromAgeStanzas(stanzas []*age.Stanza) []*format.Stanza {
	out := make([]*format.Stanza, len(stanzas))
	for i, s := range stanzas {
		out[i] = &format.Stanza{Type: s.Type, Args: s.Args, Body: s.Body}
	}
	return out
}

// Wrap wraps a single share's per-share AEAD key to r, producing the
// recipient stanzas that follow that share's "share" stanza in the header.
func Wrap(r age.Recipient, shareKey []byte) ([]*format.Stanza, error) {
	stanzas, err := r.Wrap(shareKey)
	if err != nil {
		return nil, fmt.Errorf("ageio: wrapping share key: %w", err)
	}
	return fromAgeStanzas(stanzas), nil
}

// Unwrap tries to recover a per-share AEAD key from the given stanzas using
// identity i. It returns ErrIncorrectIdentity, unwrapped, if i doesn't match
// any of the stanzas.
func Unwrap(i age.Identity, stanzas []*format.Stanza) ([]byte, error) {
	shareKey, err := i.Unwrap(toAgeStanzas(stanzas))
	if err != nil {
		if errors.Is(err, age.ErrIncorrectIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("ageio: unwrapping share key: %w", err)
	}
	return shareKey, nil
}

// TryUnwrap tries every identity against a share's recipient stanzas,
// stopping at the first one that claims it. A nil shareKey with
// unwrapped == false means no identity recognized any stanza in this
// group, which callers should treat as "skip this share", not an error.
func TryUnwrap(identities []age.Identity, stanzas []*format.Stanza) (shareKey []byte, unwrapped bool, err error) {
	for _, id := range identities {
		key, uerr := Unwrap(id, stanzas)
		if uerr == nil {
			return key, true, nil
		}
		if errors.Is(uerr, ErrIncorrectIdentity) {
			continue
		}
		return nil, false, uerr
	}
	return nil, false, nil
}

// ParseRecipient parses a recipient encoding, trying the native X25519
// format first and falling back to the age plugin protocol for "age1"
// strings that carry a plugin name segment. ui is used for any
// interactive prompts the plugin needs while wrapping; it may be nil for
// recipients that never prompt.
func ParseRecipient(s string, ui *plugin.ClientUI) (age.Recipient, error) {
	if !strings.HasPrefix(s, "age1") {
		return nil, fmt.Errorf("ageio: unknown recipient type: %q", s)
	}
	if r, err := age.ParseX25519Recipient(s); err == nil {
		return r, nil
	}
	return plugin.NewRecipient(s, ui)
}

// ParseIdentity parses an identity encoding, dispatching to the X25519 or
// plugin constructor the same way ParseRecipient does for recipients.
func ParseIdentity(s string, ui *plugin.ClientUI) (age.Identity, error) {
	switch {
	case strings.HasPrefix(s, "AGE-SECRET-KEY-1"):
		return age.ParseX25519Identity(s)
	case strings.HasPrefix(s, "AGE-PLUGIN-"):
		return plugin.NewIdentity(s, ui)
	default:
		return nil, fmt.Errorf("ageio: unknown identity type: %q", s)
	}
}
