// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"testing"
	"unsafe"
)

func TestSchemaSingleSource(t *testing.T) {
	t.Parallel()
	src := NewSource("eth0", "interface")
	defer src.Put()

	set := &ValueSet{Values: []Value{
		{Name: "rx_bytes", Description: "received bytes", Type: U64,
			Offset: unsafe.Offsetof(testValues{}.u64)},
		{Name: "link_up", Description: "link state", Type: Bool, Flag: Gauge,
			Offset: unsafe.Offsetof(testValues{}.bo)},
	}}
	if err := src.AddValues(set, base(newContainer())); err != nil {
		t.Fatalf("AddValues: %v", err)
	}

	want := "LABEL\n" +
		"interface eth0\n" +
		"\n" +
		"METRIC\nNAME rx_bytes\nFLAG CUMULATIVE\nTYPE INT\nDESC received bytes\n\n" +
		"METRIC\nNAME link_up\nFLAG GAUGE\nTYPE INT\nDESC link state\n\n"
	if got := string(src.Schema()); got != want {
		t.Errorf("schema:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSchemaLabelsLeafFirst(t *testing.T) {
	t.Parallel()
	parent := NewSource("net", "subsystem")
	child := NewSource("eth0", "interface")
	defer parent.Put()
	defer child.Put()
	if err := parent.AddSubordinate(child); err != nil {
		t.Fatalf("AddSubordinate: %v", err)
	}

	want := "LABEL\n" +
		"interface eth0\n" +
		"subsystem net\n" +
		"\n"
	if got := string(child.Schema()); got != want {
		t.Errorf("schema:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
