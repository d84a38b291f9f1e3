// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Label is one (key, value) pair emitted by the .schema file. A
// source's label list starts with its own (labelKey, name) pair;
// linking under a parent appends a copy of the parent's entire list,
// so the list reads leaf-first, then ancestors in order.
type Label struct {
	Key   string
	Value string
}

// binding attaches a value set to a source at a base address. A nil
// base marks a pure aggregate binding (no storage of its own) — or a
// binding whose storage has been revoked.
type binding struct {
	set  *ValueSet
	base unsafe.Pointer

	// filesCreated makes publication idempotent: once the binding's
	// value files exist, re-publishing the source skips them.
	filesCreated bool
}

// Source is a named node in the stats tree. All methods are safe for
// concurrent use.
//
// A source is reference counted. Creation hands the caller one strong
// reference; each parent link and each open file against one of the
// source's values holds another. The node is destroyed when the count
// reaches zero, never while a reader can still observe it.
type Source struct {
	name     string
	labelKey string

	refs atomic.Int64

	// mu guards bindings, subordinates, labels, and the publication
	// state. Readers aggregate; writers mutate tree shape.
	mu           sync.RWMutex
	bindings     []*binding
	subordinates []*Source
	labels       []Label
	pub          Publisher
	dir          Dir
}

// NewSource creates an unlinked source with the given directory name
// and schema label key. The caller owns one reference and must
// eventually release it with [Source.Put].
func NewSource(name, labelKey string) *Source {
	source := &Source{
		name:     name,
		labelKey: labelKey,
		labels:   []Label{{Key: labelKey, Value: name}},
	}
	source.refs.Store(1)
	return source
}

// Name returns the source's directory name.
func (s *Source) Name() string {
	return s.name
}

// LabelKey returns the schema label key the source was created with.
func (s *Source) LabelKey() string {
	return s.labelKey
}

// Labels returns a copy of the source's label list, leaf-first.
func (s *Source) Labels() []Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]Label, len(s.labels))
	copy(labels, s.labels)
	return labels
}

// Values returns the source's value descriptors in binding order.
// The returned pointers stay valid for the life of their value sets.
func (s *Source) Values() []*Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var values []*Value
	for _, b := range s.bindings {
		for i := range b.set.Values {
			values = append(values, &b.set.Values[i])
		}
	}
	return values
}

// Subordinates returns the source's direct children in insertion
// order. Each returned child carries a strong reference taken on the
// caller's behalf; the caller must Put every one of them.
func (s *Source) Subordinates() []*Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children := make([]*Source, len(s.subordinates))
	for i, child := range s.subordinates {
		child.Get()
		children[i] = child
	}
	return children
}

// AddValues attaches a value set to the source at the given base
// address. A nil base attaches a pure aggregate binding. Attaching
// the same set at the same base twice fails with [ErrAlreadyExists]
// and leaves the first binding in place.
//
// If the source is already published, one file per descriptor is
// created immediately; a publisher failure is returned but the
// binding itself stays attached.
func (s *Source) AddValues(set *ValueSet, base unsafe.Pointer) error {
	if set == nil || len(set.Values) == 0 {
		return fmt.Errorf("%w: empty value set", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.bindings {
		if existing.set == set && existing.base == base {
			return fmt.Errorf("%w: value set already bound at this base", ErrAlreadyExists)
		}
	}

	s.bindings = append(s.bindings, &binding{set: set, base: base})
	if err := s.createFilesLocked(); err != nil {
		return fmt.Errorf("publishing value files: %w", err)
	}
	return nil
}

// AddSubordinate links child under s. The child's reference count is
// bumped, the parent's labels are appended (copied) to the child's
// list, and — if the parent is published — the child subtree is
// published recursively. The subordinate graph must remain a strict
// tree; linking a node under two parents or into a cycle is a
// contract violation.
func (s *Source) AddSubordinate(child *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child.Get()
	s.subordinates = append(s.subordinates, child)

	child.mu.Lock()
	defer child.mu.Unlock()
	child.labels = append(child.labels, s.labels...)

	if s.dir != nil {
		child.pub = s.pub
		if err := child.createFilesRecursiveLocked(s.dir); err != nil {
			return fmt.Errorf("publishing subtree %q: %w", child.name, err)
		}
	}
	return nil
}

// RemoveSubordinate detaches child from s, removes the child
// subtree's published files, and drops the reference the link held.
// Detaching a source that is not a subordinate is a no-op.
func (s *Source) RemoveSubordinate(child *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeSubordinateLocked(child)
}

// removeSubordinateLocked detaches by pointer identity. Caller holds
// s.mu for writing.
func (s *Source) removeSubordinateLocked(child *Source) {
	for i, entry := range s.subordinates {
		if entry != child {
			continue
		}
		s.subordinates = append(s.subordinates[:i], s.subordinates[i+1:]...)
		child.removeFiles()
		child.Put()
		return
	}
}

// Revoke disconnects every binding on this source (not on children)
// from its backing storage. Afterwards simple reads on this source
// resolve to zero and aggregates rooted above no longer include its
// contributions. Producers must call Revoke before freeing the struct
// a binding points into.
func (s *Source) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		b.base = nil
	}
}

// Get acquires a strong reference. The source must be known alive —
// the caller already holds a reference directly or through a parent.
func (s *Source) Get() {
	s.refs.Add(1)
}

// TryGet acquires a strong reference unless the count has already
// reached zero. It is the open-file path: a reader that loses the
// race against the final Put observes false, never a half-destroyed
// node.
func (s *Source) TryGet() bool {
	for {
		refs := s.refs.Load()
		if refs == 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Put releases one strong reference. The final Put takes the write
// lock before tearing the node down, so no aggregation in flight can
// observe the node mid-destruction: either it acquired a read lock
// (and holds off the destructor) or TryGet already fails.
func (s *Source) Put() {
	if s.refs.Add(-1) > 0 {
		return
	}
	s.mu.Lock()
	s.destroyLocked()
}

// destroyLocked tears the node down: bindings dropped (the backing
// memory belongs to the producer), remaining children unlinked
// recursively, labels freed, published files removed. Unlocks s.mu
// before returning.
func (s *Source) destroyLocked() {
	s.bindings = nil

	for len(s.subordinates) > 0 {
		s.removeSubordinateLocked(s.subordinates[0])
	}

	s.labels = nil
	s.removeFilesLocked()
	s.mu.Unlock()
}
