// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import "errors"

// Sentinel errors surfaced at the API boundary. Filesystem adapters
// translate these to host error codes (ENOENT, EEXIST, EINVAL).
var (
	// ErrNotFound reports that a descriptor is not attached to the
	// source, or that an operation raced with source destruction.
	ErrNotFound = errors.New("stats: not found")

	// ErrAlreadyExists reports a duplicate binding: the same value
	// set with the same base address is already attached.
	ErrAlreadyExists = errors.New("stats: already exists")

	// ErrInvalid reports a malformed argument, such as an empty
	// value set or an unparseable mount option.
	ErrInvalid = errors.New("stats: invalid argument")
)
