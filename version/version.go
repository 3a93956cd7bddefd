// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package version

import (
	"strings"
)

var (
	// GitCommit is the revision of the build, filled in by the linker.
	GitCommit string

	// Version is the release being built.
	Version = "0.3.0"

	// VersionPrerelease marks a pre-release such as "dev" or "rc1". Empty for
	// a final release.
	VersionPrerelease = "dev"
)

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
}

// GetVersion returns the version the binary was linked with.
func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
	}
}

// FullVersionNumber renders the version for humans, with the revision on a
// second line when rev is set and one is known.
func (c *VersionInfo) FullVersionNumber(rev bool) string {
	var sb strings.Builder

	sb.WriteString("ai-run v")
	sb.WriteString(c.Version)
	if c.VersionPrerelease != "" {
		sb.WriteString("-")
		sb.WriteString(c.VersionPrerelease)
	}

	if rev && c.Revision != "" {
		sb.WriteString("\nRevision ")
		sb.WriteString(c.Revision)
	}
	return sb.String()
}
