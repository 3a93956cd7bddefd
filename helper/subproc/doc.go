// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package subproc provides helper utilities for executing the ai-run binary as
// a child process of itself.
//
// The main entrypoint is the Do function, in which the given MainFunc will be
// executed as a sub-process if the first argument matches the subcommand.
// Command builds the matching *exec.Cmd on the controller side.
package subproc
