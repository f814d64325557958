// Copyright 2019 Google LLC
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"bbjubjub.fr/age-threshold/internal/ageio"
)

const fileSizeLimit = 1 << 24 // 16 MiB

// parseRecipients resolves the -r and -R flags into a flat, positional
// recipient list. Order matters: it determines which share each recipient
// is wrapped to (§4.6).
func parseRecipients(keys, files multiFlag) ([]age.Recipient, error) {
	var recipients []age.Recipient
	for _, arg := range keys {
		r, err := ageio.ParseRecipient(arg, pluginTerminalUI)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", arg, err)
		}
		recipients = append(recipients, r)
	}
	for _, name := range files {
		recs, err := parseRecipientsFile(name)
		if err != nil {
			return nil, fmt.Errorf("parsing recipients file %q: %w", name, err)
		}
		recipients = append(recipients, recs...)
	}
	return recipients, nil
}

func parseRecipientsFile(name string) ([]age.Recipient, error) {
	contents, err := readKeyFile(name)
	if err != nil {
		return nil, err
	}

	var recipients []age.Recipient
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		r, err := ageio.ParseRecipient(line, pluginTerminalUI)
		if err != nil {
			return nil, fmt.Errorf("malformed recipients file %q: %w", name, err)
		}
		recipients = append(recipients, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in %q", name)
	}
	return recipients, nil
}

// parseIdentitiesFiles reads every -i file and returns the flattened set
// of identities; any of them may end up unwrapping any share.
func parseIdentitiesFiles(names multiFlag) ([]age.Identity, error) {
	var identities []age.Identity
	for _, name := range names {
		ids, err := parseIdentitiesFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
		identities = append(identities, ids...)
	}
	return identities, nil
}

func parseIdentitiesFile(name string) ([]age.Identity, error) {
	contents, err := readKeyFile(name)
	if err != nil {
		return nil, err
	}

	var ids []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		id, err := ageio.ParseIdentity(line, pluginTerminalUI)
		if err != nil {
			return nil, fmt.Errorf("malformed identities file %q: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identities found in %q", name)
	}
	return ids, nil
}

func readKeyFile(name string) ([]byte, error) {
	var f io.Reader
	if name == "-" {
		if stdinInUse {
			return nil, fmt.Errorf("standard input is already being used for the input file")
		}
		stdinInUse = true
		f = os.Stdin
	} else {
		file, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
		f = file
	}

	contents, err := io.ReadAll(io.LimitReader(f, fileSizeLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	if len(contents) == fileSizeLimit {
		return nil, fmt.Errorf("failed to read %q: file too long", name)
	}
	return contents, nil
}
