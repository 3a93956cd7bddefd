// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package conceal hides protected paths inside a private mount namespace by
// overlaying empty content: an empty tmpfs over directories and /dev/null
// over regular files. The host view of the paths is unchanged.
package conceal

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/hashicorp/ai-run/helper/users"
	"github.com/hashicorp/ai-run/lib/platform"
	hclog "github.com/hashicorp/go-hclog"
)

// DefaultTmpfsSize bounds the tmpfs mounted over a concealed directory.
const DefaultTmpfsSize = "1m"

// nullDevice is bound over concealed regular files.
const nullDevice = "/dev/null"

// ErrSharedRoot is returned when / still propagates mounts to the host, in
// which case every overlay would also hide the path on the host.
var ErrSharedRoot = errors.New("root mount is shared with the host")

// Kind is how a path was concealed.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
)

// Concealed records one overlaid path.
type Concealed struct {
	// Path is the expanded path.
	Path string
	Kind Kind
}

// Concealer overlays paths through a platform.Mounter.
type Concealer struct {
	logger     hclog.Logger
	mounter    platform.Mounter
	namespaces platform.Namespaces
	home       string
	tmpfsOpts  string
}

// New returns a Concealer that expands ~ against home and mounts tmpfs
// instances of tmpfsSize (a human size such as "1m"; empty selects
// DefaultTmpfsSize).
func New(logger hclog.Logger, p *platform.Platform, home, tmpfsSize string) (*Concealer, error) {
	if tmpfsSize == "" {
		tmpfsSize = DefaultTmpfsSize
	}
	size, err := units.RAMInBytes(tmpfsSize)
	if err != nil {
		return nil, fmt.Errorf("invalid tmpfs size %q: %w", tmpfsSize, err)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid tmpfs size %q: must be positive", tmpfsSize)
	}

	return &Concealer{
		logger:     logger.Named("conceal"),
		mounter:    p.Mounter,
		namespaces: p.Namespaces,
		home:       home,
		tmpfsOpts:  fmt.Sprintf("size=%d,mode=0700", size),
	}, nil
}

// Conceal overlays every path and returns the ones that were hidden. Paths
// that are missing, are neither directories nor regular files, or fail to
// mount are logged and skipped. The only error is ErrSharedRoot, returned
// before anything is mounted.
func (c *Concealer) Conceal(paths []string) ([]Concealed, error) {
	shared, err := c.namespaces.RootShared()
	if err != nil {
		return nil, fmt.Errorf("failed to check mount propagation: %w", err)
	}
	if shared {
		return nil, ErrSharedRoot
	}

	var out []Concealed
	for _, raw := range paths {
		path := users.ExpandHome(raw, c.home)

		fi, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			c.logger.Warn("protected path does not exist, skipping", "path", path)
			continue
		case err != nil:
			c.logger.Warn("cannot inspect protected path, skipping", "path", path, "error", err)
			continue
		}

		var kind Kind
		switch {
		case fi.IsDir():
			kind = KindDirectory
			err = c.mounter.Mount("tmpfs", path, "tmpfs", c.tmpfsOpts)
		case fi.Mode().IsRegular():
			kind = KindFile
			err = c.mounter.Mount(nullDevice, path, "", "bind")
		default:
			c.logger.Warn("protected path is not a file or directory, skipping", "path", path, "mode", fi.Mode().Type())
			continue
		}
		if err != nil {
			c.logger.Warn("failed to conceal path", "path", path, "error", err)
			continue
		}

		c.logger.Debug("concealed path", "path", path, "kind", kind)
		out = append(out, Concealed{Path: path, Kind: kind})
	}

	c.logger.Info("protected paths concealed", "concealed", len(out), "requested", len(paths))
	return out, nil
}
