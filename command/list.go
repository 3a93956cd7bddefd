// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/ai-run/registry"
	"github.com/posener/complete"
)

type ListCommand struct {
	Meta
}

func (c *ListCommand) Help() string {
	helpText := `
Usage: ai-run list [options]

  Lists the sandbox sessions recorded in the session file.

General Options:

  ` + generalOptionsUsage(FlagSetSandbox) + `

List Options:

  -verbose
    Display full session IDs and absolute start times.

  -registry=<path>
    Session file to read.
`
	return strings.TrimSpace(helpText)
}

func (c *ListCommand) Synopsis() string {
	return "List sandbox sessions"
}

func (c *ListCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetSandbox),
		complete.Flags{
			"-verbose":  complete.PredictNothing,
			"-registry": complete.PredictFiles("*.json"),
		})
}

func (c *ListCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *ListCommand) Name() string { return "list" }

func (c *ListCommand) Run(args []string) int {
	var verbose bool
	var registryPath string

	flags := c.Meta.FlagSet(c.Name(), FlagSetSandbox)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&verbose, "verbose", false, "")
	flags.StringVar(&registryPath, "registry", "", "")

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
	if registryPath == "" {
		registryPath = config.RegistryPath
	}

	reg := registry.NewFile(c.Logger(config.LogLevel), registryPath)
	sessions, err := reg.List()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading sessions: %v", err))
		return 1
	}

	if len(sessions) == 0 {
		c.Ui.Output("No sandbox sessions")
		return 0
	}

	c.Ui.Output(formatSessions(sessions, verbose))
	return 0
}

func formatSessions(sessions []registry.Session, verbose bool) string {
	length := shortId
	if verbose {
		length = fullId
	}

	out := make([]string, 0, len(sessions)+1)
	out = append(out, "ID|PID|User|Status|Started|Cwd|Policy")
	for _, s := range sessions {
		started := humanize.Time(s.Started)
		if verbose {
			started = formatTime(s.Started)
		}
		out = append(out, fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s",
			limit(s.ID, length),
			s.PID,
			s.User,
			s.Status,
			started,
			s.Cwd,
			s.Policy,
		))
	}
	return formatList(out)
}
