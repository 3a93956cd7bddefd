// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package fileperms

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/shoenig/test/must"
)

func TestCheck(t *testing.T) {
	ci.Parallel(t)

	path := filepath.Join(t.TempDir(), "file")
	must.NoError(t, os.WriteFile(path, nil, Oct600))
	must.NoError(t, os.Chmod(path, Oct600))

	t.Run("matches", func(t *testing.T) {
		must.NoError(t, Check(path, Oct600))
	})

	t.Run("mismatches", func(t *testing.T) {
		must.EqError(t, Check(path, Oct755), path+": file mode expected 755, got 600")
	})

	t.Run("missing", func(t *testing.T) {
		must.ErrorIs(t, Check(path+".nope", Oct644), os.ErrNotExist)
	})
}
