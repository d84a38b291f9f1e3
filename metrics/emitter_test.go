// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"strings"
	"testing"
)

// unescape undoes appendEscaped: "\\", "\ ", and "\n" sequences.
func unescape(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				out.WriteByte('\n')
			} else {
				out.WriteByte(s[i])
			}
			continue
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// hasBareSeparator reports whether s holds a raw newline or a space
// that is not the second byte of a backslash escape.
func hasBareSeparator(s string) bool {
	if strings.Contains(s, "\n") {
		return true
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == ' ' {
			return true
		}
	}
	return false
}

func TestEscapeRoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"plain",
		"Hi\\ , \"there\"",
		"foo\nbar",
		"trailing backslash\\",
		"  leading and trailing  ",
		"\\n is not a newline",
		"mixed \\ \n tokens\nand more",
	}
	for _, input := range inputs {
		escaped := string(appendEscaped(nil, input))
		if hasBareSeparator(escaped) {
			t.Errorf("escape(%q) = %q contains an unescaped space or a raw newline", input, escaped)
		}
		if got := unescape(escaped); got != input {
			t.Errorf("unescape(escape(%q)) = %q", input, got)
		}
	}
}

func TestEscapeExamples(t *testing.T) {
	t.Parallel()
	// The documented examples: [Hi\ , "there"] and [foo\nbar].
	if got := string(appendEscaped(nil, `Hi\ , "there"`)); got != `Hi\\\ ,\ "there"` {
		t.Errorf("escape: got %q", got)
	}
	if got := string(appendEscaped(nil, "foo\nbar")); got != `foo\nbar` {
		t.Errorf("escape: got %q", got)
	}
}

func TestEmitterRows(t *testing.T) {
	t.Parallel()
	e := newEmitter(ValuesBufSize, nil)
	e.EmitInt(42, "", "")
	e.EmitInt(-7, "eth0", "")
	e.EmitString("up down", "eth1", "rx")

	want := "42\n" +
		"eth0 -7\n" +
		"eth1 rx up\\ down\n"
	if got := string(e.bytes()); got != want {
		t.Errorf("rows:\ngot %q\nwant %q", got, want)
	}
}

// TestEmitterAtomicRow: a row that does not fit leaves the cursor
// untouched.
func TestEmitterAtomicRow(t *testing.T) {
	t.Parallel()
	e := newEmitter(16, nil)
	e.EmitInt(1, "abcdef", "") // "abcdef 1\n" = 9 bytes
	before := len(e.bytes())

	e.EmitString(strings.Repeat("x", 32), "", "") // cannot fit
	if got := len(e.bytes()); got != before {
		t.Errorf("cursor moved on dropped row: %d -> %d", before, got)
	}
	if !e.Truncated() {
		t.Error("Truncated not reported")
	}
}

// TestEmitterDropsAllRowsAfterFirstDrop: once one row is dropped, a
// smaller later row is dropped too, so the table has no hole in the
// middle.
func TestEmitterDropsAllRowsAfterFirstDrop(t *testing.T) {
	t.Parallel()
	e := newEmitter(16, nil)
	e.EmitInt(1, "", "")
	e.EmitString(strings.Repeat("x", 32), "", "")
	e.EmitInt(2, "", "")

	if got := string(e.bytes()); got != "1\n" {
		t.Errorf("buffer after truncation: got %q, want %q", got, "1\n")
	}
}

// TestEmitterFillsTo64K: ten thousand rows of `val"i" i` end cleanly
// at the last row that fits, with no partial row.
func TestEmitterFillsTo64K(t *testing.T) {
	t.Parallel()
	e := newEmitter(ValuesBufSize, nil)
	rendered := 0
	size := 0
	for i := 0; i < 10000; i++ {
		row := fmt.Sprintf("val\"%d\" %d\n", i, i)
		if !e.truncated && size+len(row) <= ValuesBufSize {
			size += len(row)
			rendered++
		}
		e.EmitInt(int64(i), fmt.Sprintf("val\"%d\"", i), "")
	}

	got := string(e.bytes())
	if len(got) != size {
		t.Fatalf("snapshot size: got %d, want %d", len(got), size)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("snapshot does not end at a row boundary")
	}
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(lines) != rendered {
		t.Errorf("row count: got %d, want %d", len(lines), rendered)
	}
	last := lines[len(lines)-1]
	wantLast := fmt.Sprintf("val\"%d\" %d", rendered-1, rendered-1)
	if last != wantLast {
		t.Errorf("last row: got %q, want %q", last, wantLast)
	}
	if !e.Truncated() {
		t.Error("expected truncation for 10000 rows")
	}
}
