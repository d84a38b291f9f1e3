// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package metricfuse mounts a metrics registry as a FUSE filesystem:
// one directory per subsystem and metric, four read-only snapshot
// files per metric. Snapshots are built at open and served unchanged
// until close, so slow readers always see one consistent table.
package metricfuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/statsfs-foundation/statsfs/metrics"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// AllowOther permits other users to access the mount.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Server is a mounted metrics filesystem. It implements
// [metrics.Host]; pass it to metrics.NewRegistry.
type Server struct {
	server *fuse.Server
	root   *dirNode
	logger *slog.Logger
}

// Mount mounts an empty metrics filesystem at the configured
// mountpoint. The caller must call Unmount when done.
func Mount(options Options) (*Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	server := &Server{logger: options.Logger}
	server.root = &dirNode{}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	fuseServer, err := gofuse.Mount(options.Mountpoint, server.root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "metricfs",
			Name:       "metricfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting metrics filesystem at %s: %w", options.Mountpoint, err)
	}
	server.server = fuseServer

	options.Logger.Info("metrics filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// Unmount detaches the filesystem.
func (s *Server) Unmount() error {
	return s.server.Unmount()
}

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() {
	s.server.Wait()
}

var _ metrics.Host = (*Server)(nil)

// CreateDir creates a subsystem or metric directory. A nil parent
// means the mount root.
func (s *Server) CreateDir(name string, parent metrics.Dir) (metrics.Dir, error) {
	parentInode := s.dirInode(parent)
	ctx := context.Background()

	inode := parentInode.NewPersistentInode(ctx, &dirNode{},
		gofuse.StableAttr{Mode: syscall.S_IFDIR})
	parentInode.AddChild(name, inode, true)
	return inode, nil
}

// CreateFile creates one snapshot-backed metric file.
func (s *Server) CreateFile(name string, parent metrics.Dir, file *metrics.File) error {
	parentInode := parent.(*gofuse.Inode)
	ctx := context.Background()

	inode := parentInode.NewPersistentInode(ctx, &fileNode{server: s, file: file},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	parentInode.AddChild(name, inode, true)
	return nil
}

// RemoveRecursive unlinks a metric or subsystem directory and
// invalidates the kernel's entry cache so the removal is visible
// immediately, not after the entry TTL.
func (s *Server) RemoveRecursive(dir metrics.Dir) {
	inode := dir.(*gofuse.Inode)
	name, parent := inode.Parent()
	if parent != nil {
		parent.RmChild(name)
		parent.NotifyEntry(name)
	}
	inode.ForgetPersistent()
}

func (s *Server) dirInode(dir metrics.Dir) *gofuse.Inode {
	if dir == nil {
		return s.root.EmbeddedInode()
	}
	return dir.(*gofuse.Inode)
}

// errno maps metrics errors onto host error codes.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, metrics.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, metrics.ErrNoSpace):
		return syscall.ENOMEM
	case errors.Is(err, metrics.ErrInvalid):
		return syscall.EINVAL
	}
	return syscall.EIO
}

type dirNode struct {
	gofuse.Inode
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

// fileNode is one of a metric's four files. The snapshot — and the
// references that pin the metric alive — belong to the open, not to
// the node.
type fileNode struct {
	gofuse.Inode
	server *Server
	file   *metrics.File
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, 0, syscall.EROFS
	}
	data, release, err := n.file.Open()
	if err != nil {
		if !errors.Is(err, metrics.ErrNotFound) {
			n.server.logger.Warn("metric snapshot failed", "error", err)
		}
		return nil, 0, errno(err)
	}
	return &snapshotHandle{data: data, release: release}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle, ok := f.(*snapshotHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	if off >= int64(len(handle.data)) {
		return fuse.ReadResultData(nil), 0
	}
	window := handle.data[off:]
	if len(window) > len(dest) {
		window = window[:len(dest)]
	}
	return fuse.ReadResultData(window), 0
}

// snapshotHandle is the per-open snapshot buffer and the release that
// drops the metric and registry references.
type snapshotHandle struct {
	data    []byte
	release func()
}

var _ gofuse.FileReleaser = (*snapshotHandle)(nil)

func (h *snapshotHandle) Release(ctx context.Context) syscall.Errno {
	h.release()
	return 0
}
