// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package statsfuse

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/statsfs-foundation/statsfs/stats"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

type counters struct {
	requests uint64
	errors   int32
}

func counterSet() *stats.ValueSet {
	return &stats.ValueSet{Values: []stats.Value{
		{Name: "requests", Description: "requests served", Type: stats.U64,
			Offset: unsafe.Offsetof(counters{}.requests)},
		{Name: "errors", Description: "request errors", Type: stats.S32,
			Offset: unsafe.Offsetof(counters{}.errors)},
	}}
}

func testMount(t *testing.T, mountOptions string) (string, *Server) {
	t.Helper()
	fuseAvailable(t)

	mountpoint := filepath.Join(t.TempDir(), "mount")
	server, err := Mount(Options{
		Mountpoint:   mountpoint,
		MountOptions: mountOptions,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint, server
}

func TestMountReadValue(t *testing.T) {
	mountpoint, server := testMount(t, "")

	src := stats.NewSource("web", "service")
	defer src.Put()
	backing := &counters{requests: 42, errors: -3}
	if err := src.AddValues(counterSet(), unsafe.Pointer(backing)); err != nil {
		t.Fatalf("AddValues: %v", err)
	}
	if err := src.Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(mountpoint, "web", "requests"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "42\n" {
		t.Errorf("requests: got %q, want %q", got, "42\n")
	}

	got, err = os.ReadFile(filepath.Join(mountpoint, "web", "errors"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "-3\n" {
		t.Errorf("errors: got %q, want %q", got, "-3\n")
	}
}

func TestMountSchemaFile(t *testing.T) {
	mountpoint, server := testMount(t, "")

	src := stats.NewSource("web", "service")
	defer src.Put()
	backing := &counters{}
	if err := src.AddValues(counterSet(), unsafe.Pointer(backing)); err != nil {
		t.Fatalf("AddValues: %v", err)
	}
	if err := src.Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(mountpoint, "web", ".schema"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "LABEL\n" +
		"service web\n" +
		"\n" +
		"METRIC\nNAME requests\nFLAG CUMULATIVE\nTYPE INT\nDESC requests served\n\n" +
		"METRIC\nNAME errors\nFLAG CUMULATIVE\nTYPE INT\nDESC request errors\n\n"
	if string(got) != want {
		t.Errorf("schema:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestMountWriteZeroClears(t *testing.T) {
	mountpoint, server := testMount(t, "")

	src := stats.NewSource("web", "service")
	defer src.Put()
	backing := &counters{requests: 42}
	if err := src.AddValues(counterSet(), unsafe.Pointer(backing)); err != nil {
		t.Fatalf("AddValues: %v", err)
	}
	if err := src.Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}

	path := filepath.Join(mountpoint, "web", "requests")
	if err := os.WriteFile(path, []byte("0\n"), 0); err != nil {
		t.Fatalf("WriteFile(0): %v", err)
	}
	if backing.requests != 0 {
		t.Errorf("backing counter after clear: got %d, want 0", backing.requests)
	}

	// Any payload other than zero is rejected.
	if err := os.WriteFile(path, []byte("7\n"), 0); err == nil {
		t.Error("WriteFile(7) unexpectedly succeeded")
	}
	if err := os.WriteFile(path, []byte("junk"), 0); err == nil {
		t.Error("WriteFile(junk) unexpectedly succeeded")
	}
}

func TestMountAggregateAcrossChildren(t *testing.T) {
	mountpoint, server := testMount(t, "")

	set := &stats.ValueSet{Values: []stats.Value{
		{Name: "requests", Type: stats.U64, Aggr: stats.AggrSum,
			Offset: unsafe.Offsetof(counters{}.requests)},
	}}

	parent := stats.NewSource("web", "service")
	child1 := stats.NewSource("backend1", "backend")
	child2 := stats.NewSource("backend2", "backend")
	defer parent.Put()
	defer child1.Put()
	defer child2.Put()
	if err := parent.AddSubordinate(child1); err != nil {
		t.Fatalf("AddSubordinate: %v", err)
	}
	if err := parent.AddSubordinate(child2); err != nil {
		t.Fatalf("AddSubordinate: %v", err)
	}

	backing1 := &counters{requests: 40}
	backing2 := &counters{requests: 2}
	if err := parent.AddValues(set, nil); err != nil {
		t.Fatalf("parent AddValues: %v", err)
	}
	if err := child1.AddValues(set, unsafe.Pointer(backing1)); err != nil {
		t.Fatalf("child1 AddValues: %v", err)
	}
	if err := child2.AddValues(set, unsafe.Pointer(backing2)); err != nil {
		t.Fatalf("child2 AddValues: %v", err)
	}
	if err := parent.Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(mountpoint, "web", "requests"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "42\n" {
		t.Errorf("aggregate: got %q, want %q", got, "42\n")
	}

	// The children are nested directories with their own files.
	got, err = os.ReadFile(filepath.Join(mountpoint, "web", "backend1", "requests"))
	if err != nil {
		t.Fatalf("ReadFile(nested): %v", err)
	}
	if string(got) != "40\n" {
		t.Errorf("nested value: got %q, want %q", got, "40\n")
	}
}

func TestMountRemoveSubordinateRemovesDirectory(t *testing.T) {
	mountpoint, server := testMount(t, "")

	parent := stats.NewSource("web", "service")
	child := stats.NewSource("backend1", "backend")
	defer parent.Put()
	defer child.Put()
	if err := parent.AddSubordinate(child); err != nil {
		t.Fatalf("AddSubordinate: %v", err)
	}
	if err := parent.Register(server); err != nil {
		t.Fatalf("Register: %v", err)
	}

	childPath := filepath.Join(mountpoint, "web", "backend1")
	if _, err := os.Stat(childPath); err != nil {
		t.Fatalf("Stat before remove: %v", err)
	}

	parent.RemoveSubordinate(child)

	if _, err := os.Stat(childPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat after remove: got %v, want not-exist", err)
	}
}

func TestMountRootModeOption(t *testing.T) {
	mountpoint, _ := testMount(t, "mode=0750")

	info, err := os.Stat(mountpoint)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o750 {
		t.Errorf("root mode: got %o, want 750", got)
	}
}

func TestParseMountOptions(t *testing.T) {
	t.Parallel()

	config, err := parseMountOptions("uid=12,gid=34,mode=0755,unknown=x")
	if err != nil {
		t.Fatalf("parseMountOptions: %v", err)
	}
	if config.uid != 12 || config.gid != 34 || config.rootMode != 0o755 {
		t.Errorf("parsed config: got %+v", config)
	}

	config, err = parseMountOptions("")
	if err != nil {
		t.Fatalf("parseMountOptions(empty): %v", err)
	}
	if config.rootMode != DefaultRootMode {
		t.Errorf("default mode: got %o, want %o", config.rootMode, DefaultRootMode)
	}

	for _, bad := range []string{"uid=alpha", "gid=-1", "mode=999"} {
		if _, err := parseMountOptions(bad); !errors.Is(err, stats.ErrInvalid) {
			t.Errorf("parseMountOptions(%q): got %v, want ErrInvalid", bad, err)
		}
	}
}
