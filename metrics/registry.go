// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Dir is an opaque directory handle owned by a [Host].
type Dir any

// Host is the file-publisher seam for the metrics surface. The
// metricfuse package implements it over FUSE; tests substitute
// in-memory fakes. All published files are read-only; the host serves
// a file by calling [File.Open] at open time, reading from the
// returned snapshot, and invoking the release function at close.
type Host interface {
	// CreateDir creates a directory. A nil parent means the
	// host's root.
	CreateDir(name string, parent Dir) (Dir, error)

	// CreateFile creates one snapshot-backed file.
	CreateFile(name string, parent Dir, file *File) error

	// RemoveRecursive tears down a directory and everything under
	// it.
	RemoveRecursive(dir Dir)
}

// fileKind selects which of the four per-metric files a File serves.
type fileKind int

const (
	fileAnnotations fileKind = iota
	fileFields
	fileValues
	fileVersion
)

// File is the cookie a [Host] holds for one published file.
type File struct {
	metric *Metric
	kind   fileKind
}

// Open takes the references and builds the snapshot for one open of
// the file. It fails with [ErrNotFound] when the open races metric
// unregistration or registry shutdown, and with [ErrNoSpace] when an
// annotations or fields snapshot exceeds its buffer. On success the
// caller serves reads from data and must call release exactly once
// when the file is closed.
func (f *File) Open() (data []byte, release func(), err error) {
	m := f.metric
	if m.unregistered.Load() || !m.registry.tryGet() {
		return nil, nil, fmt.Errorf("%w: metric %q", ErrNotFound, m.def.Name)
	}
	if !m.tryGet() {
		m.registry.put()
		return nil, nil, fmt.Errorf("%w: metric %q", ErrNotFound, m.def.Name)
	}
	release = func() {
		m.put()
		m.registry.put()
	}

	switch f.kind {
	case fileAnnotations:
		data, err = m.snapshotAnnotations()
	case fileFields:
		data, err = m.snapshotFields()
	case fileValues:
		data = m.snapshotValues()
	case fileVersion:
		data = m.snapshotVersion()
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return data, release, nil
}

// Registry owns a metrics namespace on one host. Construction
// registers the built-in presence metric so a mounted but otherwise
// empty registry is still observably alive.
type Registry struct {
	host   Host
	logger *slog.Logger

	refs atomic.Int64

	mu      sync.Mutex
	metrics []*Metric
	closed  bool
}

// NewRegistry creates a registry rooted at the host's top directory.
// A nil logger discards diagnostics.
func NewRegistry(host Host, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := &Registry{host: host, logger: logger}
	registry.refs.Store(1)

	_, err := registry.Register(nil, Definition{
		Name:        "metricfs_presence",
		Description: "A basic presence metric.",
	}, func(e *Emitter) {
		e.EmitInt(1, "", "")
	})
	if err != nil {
		return nil, fmt.Errorf("registering presence metric: %w", err)
	}
	return registry, nil
}

// Subsystem is a named directory grouping metrics.
type Subsystem struct {
	name string
	dir  Dir
}

// NewSubsystem creates a subsystem directory. A nil parent nests it
// under the registry root.
func (r *Registry) NewSubsystem(name string, parent *Subsystem) (*Subsystem, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var parentDir Dir
	if parent != nil {
		parentDir = parent.dir
	}
	dir, err := r.host.CreateDir(name, parentDir)
	if err != nil {
		return nil, fmt.Errorf("creating subsystem %q: %w", name, err)
	}
	return &Subsystem{name: name, dir: dir}, nil
}

// Register publishes a metric in the given subsystem (nil for the
// registry root). The four files — annotations, fields, values,
// version — are created together; any creation failure unwinds the
// partially created metric and is returned.
func (r *Registry) Register(parent *Subsystem, def Definition, fn EmitFunc) (*Metric, error) {
	if err := checkDefinition(def); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: metric %q has no emit callback", ErrInvalid, def.Name)
	}

	var parentDir Dir
	if parent != nil {
		parentDir = parent.dir
	}
	dir, err := r.host.CreateDir(def.Name, parentDir)
	if err != nil {
		return nil, fmt.Errorf("creating metric directory %q: %w", def.Name, err)
	}

	m := &Metric{def: def, fn: fn, registry: r, dir: dir}
	m.refs.Store(1)

	files := []struct {
		name string
		kind fileKind
	}{
		{"annotations", fileAnnotations},
		{"fields", fileFields},
		{"values", fileValues},
		{"version", fileVersion},
	}
	for _, file := range files {
		if err := r.host.CreateFile(file.name, dir, &File{metric: m, kind: file.kind}); err != nil {
			r.host.RemoveRecursive(dir)
			return nil, fmt.Errorf("creating %s file for %q: %w", file.name, def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.host.RemoveRecursive(dir)
		return nil, fmt.Errorf("%w: registry closed", ErrNotFound)
	}
	r.metrics = append(r.metrics, m)
	return m, nil
}

// Close unregisters every remaining metric and drops the registry
// reference. Open snapshots stay readable until their files close.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	metrics := append([]*Metric(nil), r.metrics...)
	r.mu.Unlock()

	for _, m := range metrics {
		m.Unregister()
	}
	r.put()
}

func (r *Registry) forget(m *Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.metrics {
		if entry == m {
			r.metrics = append(r.metrics[:i], r.metrics[i+1:]...)
			return
		}
	}
}

func (r *Registry) tryGet() bool {
	for {
		refs := r.refs.Load()
		if refs == 0 {
			return false
		}
		if r.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (r *Registry) put() {
	r.refs.Add(-1)
}

func checkDefinition(def Definition) error {
	if err := checkName(def.Name); err != nil {
		return err
	}
	if def.Field1 != "" && def.Field0 == "" {
		return fmt.Errorf("%w: metric %q declares field1 without field0", ErrInvalid, def.Name)
	}
	for _, field := range []string{def.Field0, def.Field1} {
		if strings.ContainsAny(field, " \"'") {
			return fmt.Errorf("%w: field name %q contains spaces or quotes", ErrInvalid, field)
		}
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("%w: name %q contains a slash or space", ErrInvalid, name)
	}
	return nil
}
