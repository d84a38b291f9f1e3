// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package statsfuse mounts a stats source tree as a FUSE filesystem.
//
// The mounted tree mirrors the registry: one directory per source,
// one text file per value descriptor, and a .schema file per source.
// Reading a value file renders the aggregation result as decimal
// ASCII; writing the literal zero to a writable value file clears it.
//
// [Mount] returns a [Server] that implements stats.Publisher; pass it
// to Source.Register to publish a tree. Mount options follow the
// statsfs convention: a comma-separated "uid=,gid=,mode=" string
// applied to the filesystem root, unknown options ignored.
package statsfuse
