// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/ai-run/command"
	"github.com/hashicorp/ai-run/version"
	"github.com/hashicorp/cli"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

func Run(args []string) int {
	return RunCustom(args)
}

func RunCustom(args []string) int {
	// Parse flags into env vars for global use
	args = setupEnv(args)

	// Create the meta object
	metaPtr := new(command.Meta)
	metaPtr.SetupUi(args)

	commands := command.Commands(metaPtr)
	cli := &cli.CLI{
		Name:                       "ai-run",
		Version:                    version.GetVersion().FullVersionNumber(true),
		Args:                       args,
		Commands:                   commands,
		Autocomplete:               true,
		AutocompleteNoDefaultFlags: true,
		HelpFunc:                   helpFunc(commands),
		HelpWriter:                 os.Stdout,
	}

	exitCode, err := cli.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}

	return exitCode
}

// helpFunc lists the commands in the order a new user needs them.
func helpFunc(commands map[string]cli.CommandFactory) cli.HelpFunc {
	order := []string{"create", "run", "list", "destroy", "version"}

	return func(_ map[string]cli.CommandFactory) string {
		var b strings.Builder
		b.WriteString("Usage: ai-run [-version] [-help] [-autocomplete-(un)install] <command> [args]\n\n")
		b.WriteString("Available commands are:\n")

		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.SliceStable(names, func(i, j int) bool {
			return rank(order, names[i]) < rank(order, names[j])
		})

		for _, name := range names {
			cmd, err := commands[name]()
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "    %-10s %s\n", name, cmd.Synopsis())
		}
		return b.String()
	}
}

func rank(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return len(order)
}

// setupEnv parses args and may replace them and sets some env vars to known
// values based on format options
func setupEnv(args []string) []string {
	noColor := false
	for _, arg := range args {
		// Check if color is set
		if arg == "-no-color" || arg == "--no-color" {
			noColor = true
		}
	}

	// Put back into the env for later
	if noColor {
		os.Setenv(command.EnvAIRunCLINoColor, "true")
	}

	return args
}
