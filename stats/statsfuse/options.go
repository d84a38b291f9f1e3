// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package statsfuse

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/statsfs-foundation/statsfs/stats"
)

// DefaultRootMode is the permission applied to the mount root when
// the mount options do not set one.
const DefaultRootMode fs.FileMode = 0o700

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// MountOptions is a comma-separated option string in the
	// "uid=<u>,gid=<g>,mode=<octal>" form. Unknown options are
	// ignored; malformed values fail the mount. Empty applies the
	// defaults: the mounting process's uid and gid, mode 0700.
	MountOptions string

	// AllowOther permits other users to access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// mountConfig is the parsed form of Options.MountOptions.
type mountConfig struct {
	uid      uint32
	gid      uint32
	rootMode fs.FileMode
}

// parseMountOptions parses the statsfs-style option string. The
// historical contract is to silently ignore options it does not know.
func parseMountOptions(s string) (mountConfig, error) {
	config := mountConfig{
		uid:      uint32(os.Getuid()),
		gid:      uint32(os.Getgid()),
		rootMode: DefaultRootMode,
	}

	for _, option := range strings.Split(s, ",") {
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			continue
		}
		switch key {
		case "uid":
			uid, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return config, fmt.Errorf("%w: uid %q", stats.ErrInvalid, value)
			}
			config.uid = uint32(uid)
		case "gid":
			gid, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return config, fmt.Errorf("%w: gid %q", stats.ErrInvalid, value)
			}
			config.gid = uint32(gid)
		case "mode":
			mode, err := strconv.ParseUint(value, 8, 32)
			if err != nil {
				return config, fmt.Errorf("%w: mode %q", stats.ErrInvalid, value)
			}
			config.rootMode = fs.FileMode(mode) & fs.ModePerm
		}
	}
	return config, nil
}
