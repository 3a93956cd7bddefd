// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package fileperms names the permission modes of the files ai-run writes
// on the host: policy files, the session file and the generated resolver
// file.
package fileperms

import (
	"fmt"
	"os"
)

// mode is unexported so callers pass one of the constants below rather than
// a bare literal, where a missing leading zero silently produces a decimal
// mode.
type mode = os.FileMode

const (
	// Oct600 is read + write for the owner only.
	Oct600 mode = 0600

	// Oct644 is for files every user may read, such as policies and the
	// resolver file bound into the sandbox.
	Oct644 mode = 0644

	// Oct755 is for state directories other users may list.
	Oct755 mode = 0755
)

// Check returns an error unless the permission bits of the file at path are
// exactly exp.
func Check(path string, exp mode) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if perm := info.Mode().Perm(); perm != exp {
		return fmt.Errorf("%s: file mode expected %o, got %o", path, exp, perm)
	}
	return nil
}
