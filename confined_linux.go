// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"os"
	"runtime"

	"github.com/hashicorp/ai-run/helper/subproc"
	"github.com/hashicorp/ai-run/sandbox"
)

// The confined half of a sandbox re-executes this binary. Namespaces are per
// thread, so the main thread stays locked until it execs the command.
func init() {
	if len(os.Args) > 1 && os.Args[1] == sandbox.ConfinedSubcommand {
		runtime.LockOSThread()
		subproc.Do(sandbox.ConfinedSubcommand, sandbox.ConfinedMain)
	}
}
