// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics implements the second telemetry facade: textual
// metric tables exported as four files per metric — annotations,
// fields, values, version.
//
// A producer registers a [Definition] plus an emit callback with a
// [Registry]. Every open of the metric's values file allocates a
// private 64 KiB snapshot buffer and runs the callback against an
// [Emitter] bound to it; the snapshot is then served from that buffer
// until the file is closed, so a reader that seeks around always sees
// one consistent table. Rows are emitted atomically: a row that does
// not fit entirely is dropped, and so is everything after it. Emit
// the most important rows first.
//
// The facade is independent of the stats source tree: registries and
// metrics have their own reference counts, and the published files
// are plain read-only snapshots with no write-back.
//
// The metricfuse package mounts a registry as a FUSE filesystem; the
// [Host] interface is the seam between the two.
package metrics
