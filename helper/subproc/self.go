// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package subproc

import (
	"fmt"
	"os"
	"os/exec"
)

const (
	// ExitSuccess indicates the subprocess completed successfully.
	ExitSuccess = iota

	// ExitFailure indicates the subprocess terminated unsuccessfully.
	ExitFailure
)

// MainFunc is the function that runs for a given subprocess.
type MainFunc func() int

var (
	// executable is the executable of this process
	executable string
)

func init() {
	s, err := os.Executable()
	if err != nil {
		panic(fmt.Sprintf("failed to detect executable: %v", err))
	}
	executable = s
}

// Self returns the path to the executable of this process.
func Self() string {
	return executable
}

// Do f if subcommand is the first argument of the process. The process exits
// with the code returned by f. If f never returns (because it handed the
// process over with execve) nothing else runs.
func Do(subcommand string, f MainFunc) {
	if len(os.Args) > 1 && os.Args[1] == subcommand {
		rc := f()
		if rc != ExitSuccess {
			_, _ = fmt.Fprintf(os.Stderr, "subprocess %s exited with code %d\n", subcommand, rc)
		}
		os.Exit(rc)
	}
}

// Command returns an *exec.Cmd that re-executes this binary with subcommand
// as its first argument.
func Command(subcommand string, args ...string) *exec.Cmd {
	return exec.Command(executable, append([]string{subcommand}, args...)...)
}
