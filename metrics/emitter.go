// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import "strconv"

// Buffer sizes for the four per-metric files. Values snapshots
// truncate at their limit; the small files fail the open instead.
const (
	AnnotationsBufSize = 1 * 1024
	FieldsBufSize      = 1 * 1024
	ValuesBufSize      = 64 * 1024
	VersionBufSize     = 8
)

// Emitter is the per-open scratch buffer an emit callback writes rows
// into. Each EmitInt/EmitString call is atomic: either the whole row
// fits in the remaining space or the cursor stays where it was and
// the row — and every row after it — is dropped. The callback cannot
// observe the drop; truncation is the documented policy for tables
// larger than 64 KiB.
//
// An Emitter is only valid for the duration of one emit callback.
type Emitter struct {
	buf       []byte
	pos       int
	truncated bool
	metric    *Metric
	scratch   []byte
}

func newEmitter(size int, metric *Metric) *Emitter {
	return &Emitter{buf: make([]byte, size), metric: metric}
}

// EmitInt appends one integer-valued row. Pass "" for unused fields;
// the number of non-empty fields must match the metric's definition.
// A mismatch is diagnosed through the registry's logger but the row
// is still emitted.
func (e *Emitter) EmitInt(value int64, field0, field1 string) {
	if e.metric != nil {
		e.metric.checkEmit(false, field0, field1)
	}
	row := e.appendFields(e.scratch[:0], field0, field1)
	row = strconv.AppendInt(row, value, 10)
	row = append(row, '\n')
	e.commit(row)
}

// EmitString appends one string-valued row. The value is escaped like
// a field value.
func (e *Emitter) EmitString(value string, field0, field1 string) {
	if e.metric != nil {
		e.metric.checkEmit(true, field0, field1)
	}
	row := e.appendFields(e.scratch[:0], field0, field1)
	row = appendEscaped(row, value)
	row = append(row, '\n')
	e.commit(row)
}

// appendFields renders the escaped field prefix of a row.
func (e *Emitter) appendFields(row []byte, field0, field1 string) []byte {
	if field0 != "" {
		row = appendEscaped(row, field0)
		row = append(row, ' ')
		if field1 != "" {
			row = appendEscaped(row, field1)
			row = append(row, ' ')
		}
	}
	return row
}

// commit copies a fully rendered row into the buffer, or drops it.
// Once one row has been dropped every later row is dropped too, so
// the table never has holes in the middle.
func (e *Emitter) commit(row []byte) {
	e.scratch = row[:0]
	if e.truncated || e.pos+len(row) > len(e.buf) {
		e.truncated = true
		return
	}
	copy(e.buf[e.pos:], row)
	e.pos += len(row)
}

// bytes returns the emitted snapshot.
func (e *Emitter) bytes() []byte {
	return e.buf[:e.pos]
}

// Truncated reports whether at least one row was dropped.
func (e *Emitter) Truncated() bool {
	return e.truncated
}
