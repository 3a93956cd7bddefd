// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/ai-run/policy"
	"github.com/posener/complete"
)

type CreateCommand struct {
	Meta
}

func (c *CreateCommand) Help() string {
	helpText := `
Usage: ai-run create [options] [<path>]

  Writes a default sandbox policy. The path defaults to "policy.yaml" in the
  current directory. The policy hides common credential locations, denies
  network access except DNS and blocks kernel module and tracing syscalls.

General Options:

  ` + generalOptionsUsage(FlagSetNone) + `

Create Options:

  -force
    Overwrite an existing policy file.
`
	return strings.TrimSpace(helpText)
}

func (c *CreateCommand) Synopsis() string {
	return "Write a default sandbox policy"
}

func (c *CreateCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetNone),
		complete.Flags{
			"-force": complete.PredictNothing,
		})
}

func (c *CreateCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictFiles("*.yaml")
}

func (c *CreateCommand) Name() string { return "create" }

func (c *CreateCommand) Run(args []string) int {
	var force bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetNone)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&force, "force", false, "")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	args = flags.Args()
	if len(args) > 1 {
		return c.errorf(c, "This command takes at most one argument: [<path>]")
	}

	path := policy.DefaultFileName
	if len(args) == 1 {
		path = args[0]
	}

	if err := policy.WriteDefault(path, force); err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to write policy: %v", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Default policy written to %s", path))
	return 0
}
