// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot captures a stats source tree as a self-describing
// binary file for offline inspection and diffing.
//
// The capture walks the tree under read locks and records, per
// source, the labels and the current result of every value
// descriptor — aggregates included. The tree is encoded as CBOR with
// Core Deterministic Encoding, so two captures of identical state
// produce identical bytes, then zstd-compressed and framed with a
// magic header and a BLAKE3 checksum that [Read] verifies.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/statsfs-foundation/statsfs/stats"
)

// Snapshot file format constants.
const (
	// snapshotVersion is the format version byte in the magic.
	snapshotVersion = 1

	// headerSize is the fixed header: 8-byte magic + 4-byte
	// compressed payload length.
	headerSize = 12

	// checksumSize is the BLAKE3 digest over the compressed
	// payload, appended after it.
	checksumSize = 32
)

// snapshotMagic is the 8-byte file signature: "STATS" + version byte
// + two reserved bytes.
var snapshotMagic = [8]byte{'S', 'T', 'A', 'T', 'S', snapshotVersion, 0, 0}

// ErrCorrupt reports a snapshot file that fails structural or
// checksum validation.
var ErrCorrupt = errors.New("snapshot: corrupt file")

// Tree is one captured source with its subtree.
type Tree struct {
	// Name is the source's directory name.
	Name string `cbor:"name"`

	// Labels is the source's schema label list, leaf-first.
	Labels []Label `cbor:"labels"`

	// Values holds the result of every descriptor on the source, in
	// binding order.
	Values []ValueRecord `cbor:"values"`

	// Children are the subordinate sources in insertion order.
	Children []*Tree `cbor:"children,omitempty"`
}

// Label mirrors stats.Label for encoding.
type Label struct {
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
}

// ValueRecord is one descriptor's captured result.
type ValueRecord struct {
	// Name of the descriptor.
	Name string `cbor:"name"`

	// Bits is the 64-bit result word.
	Bits uint64 `cbor:"bits"`

	// Signed records whether Bits reinterprets as int64.
	Signed bool `cbor:"signed"`
}

// Render returns the record's decimal rendering, matching the value
// file contents.
func (record ValueRecord) Render() string {
	v := stats.Value{Type: stats.U64}
	if record.Signed {
		v.Type = stats.S64
	}
	return v.Format(record.Bits)
}

// encMode uses Core Deterministic Encoding so identical trees always
// produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Capture walks the tree rooted at source and returns its snapshot.
// The root is pinned with TryGet and Capture fails with
// stats.ErrNotFound when it is already destroyed. Children are pinned
// by the references Subordinates takes; a child unlinked before its
// parent lists it is simply absent from the result.
func Capture(source *stats.Source) (*Tree, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil source", stats.ErrInvalid)
	}
	if !source.TryGet() {
		return nil, fmt.Errorf("%w: source already destroyed", stats.ErrNotFound)
	}
	defer source.Put()
	return captureLocked(source), nil
}

// captureLocked captures one pinned source and recurses. The caller
// holds a reference on source.
func captureLocked(source *stats.Source) *Tree {
	tree := &Tree{Name: source.Name()}
	for _, label := range source.Labels() {
		tree.Labels = append(tree.Labels, Label{Key: label.Key, Value: label.Value})
	}

	for _, v := range source.Values() {
		bits, err := source.GetValue(v)
		if err != nil {
			// The binding went away between listing and reading.
			continue
		}
		tree.Values = append(tree.Values, ValueRecord{
			Name:   v.Name,
			Bits:   bits,
			Signed: v.Type.Signed(),
		})
	}

	children := source.Subordinates()
	for _, child := range children {
		tree.Children = append(tree.Children, captureLocked(child))
		child.Put()
	}
	return tree
}

// Write captures the tree rooted at source and writes the framed
// snapshot to w.
func Write(w io.Writer, source *stats.Source) error {
	tree, err := Capture(source)
	if err != nil {
		return err
	}
	return WriteTree(w, tree)
}

// WriteTree writes an already captured tree.
func WriteTree(w io.Writer, tree *Tree) error {
	payload, err := encMode.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(payload, nil)
	encoder.Close()

	header := make([]byte, headerSize)
	copy(header, snapshotMagic[:])
	binary.BigEndian.PutUint32(header[8:], uint32(len(compressed)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("writing snapshot payload: %w", err)
	}

	checksum := blake3.Sum256(compressed)
	if _, err := w.Write(checksum[:]); err != nil {
		return fmt.Errorf("writing snapshot checksum: %w", err)
	}
	return nil
}

// Read parses and verifies a snapshot produced by [Write].
func Read(r io.Reader) (*Tree, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(header[:8], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	payloadSize := binary.BigEndian.Uint32(header[8:])

	compressed := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrCorrupt, err)
	}

	var checksum [checksumSize]byte
	if _, err := io.ReadFull(r, checksum[:]); err != nil {
		return nil, fmt.Errorf("%w: short checksum: %v", ErrCorrupt, err)
	}
	if blake3.Sum256(compressed) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()
	payload, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %v", ErrCorrupt, err)
	}

	tree := &Tree{}
	if err := decMode.Unmarshal(payload, tree); err != nil {
		return nil, fmt.Errorf("%w: decoding failed: %v", ErrCorrupt, err)
	}
	return tree, nil
}
