// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build !linux

package sandbox

import (
	"fmt"
	"os"

	"github.com/hashicorp/ai-run/helper/subproc"
	"github.com/hashicorp/ai-run/lib/platform"
)

// ConfinedMain is the entry point of the re-executed confined process.
func ConfinedMain() int {
	_, _ = fmt.Fprintln(os.Stderr, platform.ErrUnsupported)
	return subproc.ExitFailure
}
