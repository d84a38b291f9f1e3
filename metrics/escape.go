// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import "errors"

// Sentinel errors surfaced at the API boundary. Filesystem adapters
// translate these to host error codes (ENOENT, ENOMEM, EINVAL).
var (
	// ErrNotFound reports an open racing metric unregistration or
	// registry shutdown.
	ErrNotFound = errors.New("metrics: not found")

	// ErrNoSpace reports a snapshot that cannot fit its buffer:
	// an over-long description or field list. Values snapshots
	// never return it — they truncate instead.
	ErrNoSpace = errors.New("metrics: buffer full")

	// ErrInvalid reports a malformed definition.
	ErrInvalid = errors.New("metrics: invalid argument")
)

// appendEscaped appends s with table metacharacters escaped:
// backslash and space are prefixed with a backslash, newline becomes
// a literal "\n". Parsers undo exactly these three sequences, so
// escaping round-trips any string.
func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\n':
			dst = append(dst, '\\', 'n')
		case ' ', '\\':
			dst = append(dst, '\\', c)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
