// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"sync/atomic"
)

// Definition declares a metric's shape. At most two fields are
// supported; a row is then "<field0> <field1> <value>". Field names
// appear unescaped in the fields file and therefore must not contain
// spaces or quotes.
type Definition struct {
	// Name of the metric, also its directory name.
	Name string

	// Description for the annotations file.
	Description string

	// Field0 and Field1 name the row fields. Empty means unused;
	// Field1 requires Field0.
	Field0 string
	Field1 string

	// String marks a string-valued metric; the callback must use
	// EmitString. Default is integer-valued.
	String bool

	// Cumulative marks a monotonically growing counter, recorded
	// in the annotations file.
	Cumulative bool
}

// EmitFunc fills one values snapshot. It is called on every open of
// the metric's values file and must not retain the emitter. The
// callback runs outside any registry lock, but must not block on
// locks that the reader path can hold.
type EmitFunc func(*Emitter)

// Metric is one registered metric. It is reference counted: the
// registration holds one reference and every open file holds another,
// so a snapshot being read can outlive Unregister.
type Metric struct {
	def      Definition
	fn       EmitFunc
	registry *Registry
	dir      Dir

	refs         atomic.Int64
	unregistered atomic.Bool
}

// Name returns the metric's name.
func (m *Metric) Name() string {
	return m.def.Name
}

// Unregister removes the metric's files and drops the registration
// reference. Snapshots already open stay readable until closed; new
// opens fail with ErrNotFound.
func (m *Metric) Unregister() {
	if m.unregistered.Swap(true) {
		return
	}
	m.registry.forget(m)
	m.registry.host.RemoveRecursive(m.dir)
	m.put()
}

func (m *Metric) tryGet() bool {
	for {
		refs := m.refs.Load()
		if refs == 0 {
			return false
		}
		if m.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (m *Metric) put() {
	m.refs.Add(-1)
}

// checkEmit diagnoses emit calls that disagree with the definition:
// wrong value type or wrong field arity. The row is still emitted —
// mangled output is more debuggable than missing output.
func (m *Metric) checkEmit(isString bool, field0, field1 string) {
	logger := m.registry.logger
	if isString != m.def.String {
		logger.Warn("metric emit type mismatch",
			"metric", m.def.Name,
			"definition_string", m.def.String,
		)
	}
	if (m.def.Field0 != "") != (field0 != "") || (m.def.Field1 != "") != (field1 != "") {
		logger.Warn("metric emit field arity mismatch",
			"metric", m.def.Name,
			"declared", countFields(m.def.Field0, m.def.Field1),
			"emitted", countFields(field0, field1),
		)
	}
}

func countFields(field0, field1 string) int {
	n := 0
	if field0 != "" {
		n++
	}
	if field1 != "" {
		n++
	}
	return n
}

// snapshotAnnotations renders the annotations file:
//
//	DESCRIPTION <escaped-description>
//	CUMULATIVE            (cumulative metrics only)
func (m *Metric) snapshotAnnotations() ([]byte, error) {
	buf := append([]byte(nil), "DESCRIPTION "...)
	buf = appendEscaped(buf, m.def.Description)
	buf = append(buf, '\n')
	if m.def.Cumulative {
		buf = append(buf, "CUMULATIVE\n"...)
	}
	if len(buf) > AnnotationsBufSize {
		return nil, fmt.Errorf("%w: annotations for %q exceed %d bytes", ErrNoSpace, m.def.Name, AnnotationsBufSize)
	}
	return buf, nil
}

// snapshotFields renders the fields file: a header line of field
// names ending in "value", then a type line of str/int tokens. Row
// fields are always strings; the value type follows the definition.
func (m *Metric) snapshotFields() ([]byte, error) {
	var buf []byte
	if m.def.Field0 != "" {
		buf = append(buf, m.def.Field0...)
		buf = append(buf, ' ')
	}
	if m.def.Field1 != "" {
		buf = append(buf, m.def.Field1...)
		buf = append(buf, ' ')
	}
	buf = append(buf, "value\n"...)

	if m.def.Field0 != "" {
		buf = append(buf, "str "...)
	}
	if m.def.Field1 != "" {
		buf = append(buf, "str "...)
	}
	if m.def.String {
		buf = append(buf, "str\n"...)
	} else {
		buf = append(buf, "int\n"...)
	}

	if len(buf) > FieldsBufSize {
		return nil, fmt.Errorf("%w: fields for %q exceed %d bytes", ErrNoSpace, m.def.Name, FieldsBufSize)
	}
	return buf, nil
}

// snapshotValues runs the emit callback against a fresh 64 KiB
// buffer and returns what fit. Truncation is silent by design.
func (m *Metric) snapshotValues() []byte {
	e := newEmitter(ValuesBufSize, m)
	m.fn(e)
	if e.Truncated() {
		m.registry.logger.Debug("metric values snapshot truncated",
			"metric", m.def.Name,
			"bytes", len(e.bytes()),
		)
	}
	return e.bytes()
}

func (m *Metric) snapshotVersion() []byte {
	return []byte("1\n")
}
