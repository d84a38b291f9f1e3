// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package stats implements a hierarchical, reference-counted registry
// of statistics sources.
//
// A [Source] is a named tree node. Producers attach a [ValueSet] — an
// immutable array of typed value descriptors — to a source together
// with the base address of the struct holding the live counters
// ([Source.AddValues]). Descriptors with aggregation kind [AggrNone]
// are simple values read directly from memory; any other kind makes
// the descriptor an aggregate whose result is computed by walking the
// subtree and folding every matching simple value ([Source.GetValue]).
//
// Sources link into trees with [Source.AddSubordinate]. Each link
// holds a strong reference; open files against a source's values hold
// one too, so a source can outlive its creator. Producers that are
// about to free the struct backing a binding must call
// [Source.Revoke] first — afterwards reads of this source resolve to
// zero and aggregates rooted above it skip its contributions.
//
// The tree is published to an external namespace through the
// [Publisher] interface; see the statsfuse package for the FUSE
// implementation. Publication is explicit ([Source.Register]) and the
// publisher handle is threaded through the tree rather than held as
// process-global state.
//
// Locking follows the link direction: every source owns one
// readers-writer lock, and recursive operations acquire locks parent
// before child. Subordinate graphs must therefore be strict trees;
// linking a source into a cycle deadlocks aggregation.
package stats
