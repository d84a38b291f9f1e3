// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package statsfuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/statsfs-foundation/statsfs/stats"
)

// Server is a mounted stats filesystem. It implements
// [stats.Publisher]: register a source against it and the source's
// subtree appears under the mountpoint.
type Server struct {
	server *fuse.Server
	root   *rootNode
	config mountConfig
	logger *slog.Logger
}

// Mount mounts an empty stats filesystem at the configured
// mountpoint. The caller must call Unmount when done.
func Mount(options Options) (*Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	config, err := parseMountOptions(options.MountOptions)
	if err != nil {
		return nil, fmt.Errorf("parsing mount options: %w", err)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	server := &Server{config: config, logger: options.Logger}
	server.root = &rootNode{server: server}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	fuseServer, err := gofuse.Mount(options.Mountpoint, server.root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "statsfs",
			Name:       "statsfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting stats filesystem at %s: %w", options.Mountpoint, err)
	}
	server.server = fuseServer

	options.Logger.Info("stats filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// Unmount detaches the filesystem. Registered sources keep their
// in-memory tree; only the published view goes away.
func (s *Server) Unmount() error {
	return s.server.Unmount()
}

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() {
	s.server.Wait()
}

var _ stats.Publisher = (*Server)(nil)

// CreateDir creates one directory for a source. A nil parent means
// the mount root.
func (s *Server) CreateDir(name string, parent stats.Dir) (stats.Dir, error) {
	parentInode := s.dirInode(parent)
	ctx := context.Background()

	inode := parentInode.NewPersistentInode(ctx, &dirNode{server: s},
		gofuse.StableAttr{Mode: syscall.S_IFDIR})
	parentInode.AddChild(name, inode, true)
	return inode, nil
}

// CreateValueFile creates the file for one value descriptor. The
// (source, value) pair is resolved again on every open.
func (s *Server) CreateValueFile(parent stats.Dir, source *stats.Source, value *stats.Value) error {
	parentInode := parent.(*gofuse.Inode)
	ctx := context.Background()

	inode := parentInode.NewPersistentInode(ctx, &valueNode{server: s, source: source, value: value},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	parentInode.AddChild(value.Name, inode, true)
	return nil
}

// CreateSchemaFile creates the source's .schema file.
func (s *Server) CreateSchemaFile(parent stats.Dir, source *stats.Source) error {
	parentInode := parent.(*gofuse.Inode)
	ctx := context.Background()

	inode := parentInode.NewPersistentInode(ctx, &schemaNode{server: s, source: source},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	parentInode.AddChild(".schema", inode, true)
	return nil
}

// RemoveRecursive unlinks a source directory from the tree and
// invalidates the kernel's entry cache so the removal is visible
// immediately, not after the entry TTL.
func (s *Server) RemoveRecursive(dir stats.Dir) {
	inode := dir.(*gofuse.Inode)
	name, parent := inode.Parent()
	if parent != nil {
		parent.RmChild(name)
		parent.NotifyEntry(name)
	}
	inode.ForgetPersistent()
}

func (s *Server) dirInode(dir stats.Dir) *gofuse.Inode {
	if dir == nil {
		return s.root.EmbeddedInode()
	}
	return dir.(*gofuse.Inode)
}

// errno maps stats errors onto host error codes.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, stats.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, stats.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, stats.ErrInvalid):
		return syscall.EINVAL
	}
	return syscall.EIO
}

// rootNode is the mount root. It carries the uid/gid/mode from the
// mount options.
type rootNode struct {
	gofuse.Inode
	server *Server
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeGetattrer = (*rootNode)(nil)

func (r *rootNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | uint32(r.server.config.rootMode)
	out.Owner = fuse.Owner{Uid: r.server.config.uid, Gid: r.server.config.gid}
	return 0
}

// dirNode is one source directory.
type dirNode struct {
	gofuse.Inode
	server *Server
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	out.Owner = fuse.Owner{Uid: d.server.config.uid, Gid: d.server.config.gid}
	return 0
}

// valueNode is one value descriptor's file. Every open holds a
// reference on the source; the aggregation runs at first read and the
// rendered text is served from the per-open snapshot after that.
type valueNode struct {
	gofuse.Inode
	server *Server
	source *stats.Source
	value  *stats.Value
}

var _ gofuse.InodeEmbedder = (*valueNode)(nil)
var _ gofuse.NodeGetattrer = (*valueNode)(nil)
var _ gofuse.NodeSetattrer = (*valueNode)(nil)
var _ gofuse.NodeOpener = (*valueNode)(nil)
var _ gofuse.NodeReader = (*valueNode)(nil)
var _ gofuse.NodeWriter = (*valueNode)(nil)

func (v *valueNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | uint32(v.value.FileMode())
	out.Owner = fuse.Owner{Uid: v.server.config.uid, Gid: v.server.config.gid}
	return 0
}

// Setattr accepts truncation so that shells can "echo 0 >" a value
// file. The size is meaningless for a rendered-on-read file; nothing
// is stored.
func (v *valueNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return v.Getattr(ctx, f, out)
}

func (v *valueNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY && v.value.FileMode()&0o222 == 0 {
		return nil, 0, syscall.EACCES
	}

	// Open races destruction, not the other way around: once the
	// reference is held the source stays alive until release.
	if !v.source.TryGet() {
		return nil, 0, syscall.ENOENT
	}
	return &valueHandle{node: v}, fuse.FOPEN_DIRECT_IO, 0
}

func (v *valueNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle, ok := f.(*valueHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	data, err := handle.snapshot()
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(sliceAt(data, off, len(dest))), 0
}

// sliceAt returns the window of data starting at off, at most n
// bytes, empty past the end.
func sliceAt(data []byte, off int64, n int) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	window := data[off:]
	if len(window) > n {
		window = window[:n]
	}
	return window
}

func (v *valueNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	payload := strings.TrimSpace(string(data))
	parsed, err := strconv.ParseUint(payload, 0, 64)
	if err != nil || parsed != 0 {
		return 0, syscall.EINVAL
	}
	if err := v.source.Clear(v.value); err != nil {
		v.server.logger.Warn("clear failed",
			"source", v.source.Name(),
			"value", v.value.Name,
			"error", err,
		)
		return 0, errno(err)
	}
	return uint32(len(data)), 0
}

// valueHandle is the per-open state of a value file: a reference on
// the source and the lazily rendered snapshot.
type valueHandle struct {
	node *valueNode

	mu   sync.Mutex
	data []byte
	err  error
	done bool
}

var _ gofuse.FileReleaser = (*valueHandle)(nil)

// snapshot renders the value on first use and caches the text for the
// rest of the open, so partial reads observe one consistent number.
func (h *valueHandle) snapshot() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		bits, err := h.node.source.GetValue(h.node.value)
		if err != nil {
			h.err = err
		} else {
			h.data = []byte(h.node.value.Format(bits) + "\n")
		}
		h.done = true
	}
	return h.data, h.err
}

func (h *valueHandle) Release(ctx context.Context) syscall.Errno {
	h.node.source.Put()
	return 0
}

// schemaNode is a source's .schema file. The schema text is
// snapshotted at open.
type schemaNode struct {
	gofuse.Inode
	server *Server
	source *stats.Source
}

var _ gofuse.InodeEmbedder = (*schemaNode)(nil)
var _ gofuse.NodeGetattrer = (*schemaNode)(nil)
var _ gofuse.NodeOpener = (*schemaNode)(nil)
var _ gofuse.NodeReader = (*schemaNode)(nil)

func (n *schemaNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Owner = fuse.Owner{Uid: n.server.config.uid, Gid: n.server.config.gid}
	return 0
}

func (n *schemaNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if !n.source.TryGet() {
		return nil, 0, syscall.ENOENT
	}
	handle := &schemaHandle{source: n.source, data: n.source.Schema()}
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

func (n *schemaNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle, ok := f.(*schemaHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	return fuse.ReadResultData(sliceAt(handle.data, off, len(dest))), 0
}

type schemaHandle struct {
	source *stats.Source
	data   []byte
}

var _ gofuse.FileReleaser = (*schemaHandle)(nil)

func (h *schemaHandle) Release(ctx context.Context) syscall.Errno {
	h.source.Put()
	return 0
}
