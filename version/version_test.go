// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package version

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestVersionInfo_FullVersionNumber(t *testing.T) {
	v := &VersionInfo{
		Version:           "0.3.0",
		VersionPrerelease: "dev",
		Revision:          "abc123",
	}
	must.Eq(t, "ai-run v0.3.0-dev\nRevision abc123", v.FullVersionNumber(true))
	must.Eq(t, "ai-run v0.3.0-dev", v.FullVersionNumber(false))

	// final releases and unknown revisions
	v = &VersionInfo{Version: "1.0.0"}
	must.Eq(t, "ai-run v1.0.0", v.FullVersionNumber(true))
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	must.Eq(t, Version, v.Version)
	must.Eq(t, VersionPrerelease, v.VersionPrerelease)
	must.Eq(t, GitCommit, v.Revision)
}
