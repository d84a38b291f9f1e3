// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import "fmt"

// Dir is an opaque directory handle owned by a [Publisher].
type Dir any

// Publisher mirrors a source tree into an external namespace: one
// directory per source, one file per value descriptor, one schema
// file per source. The statsfuse package provides the FUSE
// implementation; tests substitute in-memory fakes.
//
// Publisher methods are called with the locks of the sources being
// published held, so implementations must not call back into the tree
// from them. The read-side callbacks (a value file being opened) run
// lock-free and re-enter the tree through TryGet/GetValue.
type Publisher interface {
	// CreateDir creates a directory. A nil parent means the
	// publisher's root.
	CreateDir(name string, parent Dir) (Dir, error)

	// CreateValueFile creates the file for one value descriptor of
	// a source. The (source, value) pair is the cookie the
	// publisher resolves on read and write.
	CreateValueFile(parent Dir, source *Source, value *Value) error

	// CreateSchemaFile creates the source's .schema file.
	CreateSchemaFile(parent Dir, source *Source) error

	// RemoveRecursive tears down a directory and everything under
	// it.
	RemoveRecursive(dir Dir)
}

// Register publishes the source and its current subtree through the
// given publisher, under the publisher's root. Subsequent AddValues
// and AddSubordinate calls on a registered source materialise their
// files immediately.
//
// A publisher failure unwinds the files created by this call and is
// returned; the tree itself is left unchanged.
func (s *Source) Register(pub Publisher) error {
	if pub == nil {
		return fmt.Errorf("%w: nil publisher", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pub = pub
	if err := s.createFilesRecursiveLocked(nil); err != nil {
		s.removeFilesLocked()
		return fmt.Errorf("registering source %q: %w", s.name, err)
	}
	return nil
}

// createFilesLocked materialises one file per descriptor for every
// binding not yet published. Caller holds s.mu for writing. No-op
// while the source has no directory.
func (s *Source) createFilesLocked() error {
	if s.dir == nil {
		return nil
	}

	for _, b := range s.bindings {
		if b.filesCreated {
			continue
		}
		for i := range b.set.Values {
			if err := s.pub.CreateValueFile(s.dir, s, &b.set.Values[i]); err != nil {
				return fmt.Errorf("creating value file %q: %w", b.set.Values[i].Name, err)
			}
		}
		b.filesCreated = true
	}
	return nil
}

// createFilesRecursiveLocked publishes this node and every descendant
// that has no directory yet. Caller holds s.mu for writing and has
// set s.pub; children are locked as they are visited.
func (s *Source) createFilesRecursiveLocked(parent Dir) error {
	if s.dir == nil {
		dir, err := s.pub.CreateDir(s.name, parent)
		if err != nil {
			return fmt.Errorf("creating directory %q: %w", s.name, err)
		}
		s.dir = dir
		if err := s.pub.CreateSchemaFile(s.dir, s); err != nil {
			return fmt.Errorf("creating schema file for %q: %w", s.name, err)
		}
	}

	if err := s.createFilesLocked(); err != nil {
		return err
	}

	for _, child := range s.subordinates {
		if child.dir != nil {
			// A child with a directory has a published subtree
			// below it too.
			continue
		}
		child.mu.Lock()
		child.pub = s.pub
		err := child.createFilesRecursiveLocked(s.dir)
		child.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// removeFiles tears down the subtree's published files under this
// node's own lock.
func (s *Source) removeFiles() {
	s.mu.Lock()
	s.removeFilesLocked()
	s.mu.Unlock()
}

// removeFilesLocked removes children's files first, then this node's
// directory. Bindings are marked unpublished so a later re-register
// recreates their files. Caller holds s.mu for writing.
func (s *Source) removeFilesLocked() {
	if s.dir == nil {
		return
	}

	for _, child := range s.subordinates {
		child.removeFiles()
	}

	s.pub.RemoveRecursive(s.dir)
	s.dir = nil
	for _, b := range s.bindings {
		b.filesCreated = false
	}
}
