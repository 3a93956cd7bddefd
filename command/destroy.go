// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/ai-run/lib/netbridge"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/registry"
	"github.com/posener/complete"
)

type DestroyCommand struct {
	Meta

	// platform defaults to platform.Default
	platform *platform.Platform
}

func (c *DestroyCommand) Help() string {
	helpText := `
Usage: ai-run destroy [options]

  Removes what a crashed sandbox may have left behind: the host end of the
  veth pair, the NAT rules of the sandbox subnet, the generated resolver file
  and session file entries of processes that no longer exist.

  The network bridge of a running session is only removed with -force. This
  command must run as root.

General Options:

  ` + generalOptionsUsage(FlagSetSandbox) + `

Destroy Options:

  -force
    Remove the network bridge even if sessions are still running.
`
	return strings.TrimSpace(helpText)
}

func (c *DestroyCommand) Synopsis() string {
	return "Clean up sandbox leftovers"
}

func (c *DestroyCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetSandbox),
		complete.Flags{
			"-force": complete.PredictNothing,
		})
}

func (c *DestroyCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *DestroyCommand) Name() string { return "destroy" }

func (c *DestroyCommand) Run(args []string) int {
	var force bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetSandbox)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&force, "force", false, "")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	if len(flags.Args()) != 0 {
		return c.errorf(c, "This command takes no arguments")
	}

	config, err := c.loadConfig(nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading configuration: %v", err))
		return 1
	}
	logger := c.Logger(config.LogLevel)

	p := c.platform
	if p == nil {
		p = platform.Default()
	}
	if err := p.Privileges.Check(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error: %v", err))
		return 1
	}

	reg := registry.NewFile(logger, config.RegistryPath)
	pruned, err := reg.Prune()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error pruning sessions: %v", err))
		return 1
	}
	if len(pruned) > 0 {
		c.Ui.Output(fmt.Sprintf("Removed %d stale session(s)", len(pruned)))
	}

	running, err := reg.List()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading sessions: %v", err))
		return 1
	}
	if len(running) > 0 && !force {
		pids := make([]string, 0, len(running))
		for _, s := range running {
			pids = append(pids, fmt.Sprint(s.PID))
		}
		c.Ui.Error(wrapAtLength(fmt.Sprintf("Sandbox sessions are still running (pid %s). "+
			"Use -force to remove the network bridge anyway.", strings.Join(pids, ", "))))
		return 1
	}

	bridge := netbridge.NewBuilder(logger, config.Bridge(), p)
	if err := bridge.Teardown(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error removing network bridge: %v", err))
		return 1
	}

	c.Ui.Output("Cleanup complete")
	return 0
}
