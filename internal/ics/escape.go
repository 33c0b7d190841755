// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package ics

import "strings"

// UnescapeText reverses RFC 5545 TEXT escaping: `\\`, `\;`, `\,` and
// `\n`/`\N` become their literal characters. Consumers of canonical
// events always see plain text; EscapeText applies the identical rules
// on export so a round trip is lossless.
func UnescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}

		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case ';':
			b.WriteByte(';')
		case ',':
			b.WriteByte(',')
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			// Unknown escape; keep both characters.
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}

	return b.String()
}

// EscapeText applies RFC 5545 TEXT escaping, the exact inverse of
// UnescapeText.
func EscapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// Bare CR is dropped; CRLF pairs collapse to the escaped LF.
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
