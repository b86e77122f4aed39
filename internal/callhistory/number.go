// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalizer turns raw peer addresses into the numbers used for matching.
type Normalizer struct {
	region string
}

// NewNormalizer creates a Normalizer. region is a CLDR region code used to
// expand national numbers to E.164; empty leaves national numbers alone.
func NewNormalizer(region string) *Normalizer {
	return &Normalizer{region: strings.ToUpper(region)}
}

// Normalize strips the URI scheme and @domain suffix, maps anonymous callers
// to "", drops visual separators and puts the number into E.164 when
// libphonenumber recognises it as valid. Extensions and other short numbers
// that are not valid E.164 numbers are kept as plain digits.
func (n *Normalizer) Normalize(address string) string {
	s := strings.TrimSpace(address)
	if i := strings.IndexByte(s, ':'); i >= 0 && isScheme(s[:i]) {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if s == "" || strings.EqualFold(s, "anonymous") {
		return ""
	}

	cleaned := stripSeparators(s)
	if !isDialable(cleaned) {
		return strings.ToLower(s)
	}
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}

	if strings.HasPrefix(cleaned, "+") || n.region != "" {
		if num, err := phonenumbers.Parse(cleaned, n.region); err == nil && phonenumbers.IsValidNumber(num) {
			return phonenumbers.Format(num, phonenumbers.E164)
		}
	}
	return cleaned
}

func isScheme(s string) bool {
	switch strings.ToLower(s) {
	case "sip", "sips", "tel":
		return true
	}
	return false
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '/':
			return -1
		}
		return r
	}, s)
}

// isDialable reports whether s is an optional "+" followed by digits.
func isDialable(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
