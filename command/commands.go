// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"os"

	"github.com/hashicorp/ai-run/version"
	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"
)

const (
	// EnvAIRunCLINoColor is an env var that toggles colored UI output.
	EnvAIRunCLINoColor = `AI_RUN_CLI_NO_COLOR`

	// EnvAIRunCLIForceColor is an env var that forces colored UI output.
	EnvAIRunCLIForceColor = `AI_RUN_CLI_FORCE_COLOR`

	// EnvAIRunConfig is the default for the -config flag.
	EnvAIRunConfig = `AI_RUN_CONFIG`
)

// NamedCommand is a interface to denote a commmand's name.
type NamedCommand interface {
	Name() string
}

// Commands returns the mapping of CLI commands for ai-run. The meta
// parameter lets you set meta options for all commands.
func Commands(metaPtr *Meta) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		}
	}

	all := map[string]cli.CommandFactory{
		"create": func() (cli.Command, error) {
			return &CreateCommand{
				Meta: meta,
			}, nil
		},
		"destroy": func() (cli.Command, error) {
			return &DestroyCommand{
				Meta: meta,
			}, nil
		},
		"list": func() (cli.Command, error) {
			return &ListCommand{
				Meta: meta,
			}, nil
		},
		"run": func() (cli.Command, error) {
			return &RunCommand{
				Meta: meta,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				Ui:      meta.Ui,
			}, nil
		},
	}

	return all
}
