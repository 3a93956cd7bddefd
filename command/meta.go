// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/ai-run/sandbox"
	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	colorable "github.com/mattn/go-colorable"
	"github.com/mitchellh/colorstring"
	"github.com/posener/complete"
	"golang.org/x/term"
)

// FlagSetFlags is an enum to define what flags are present in the
// default FlagSet returned by Meta.FlagSet.
type FlagSetFlags uint

const (
	FlagSetNone    FlagSetFlags = 0
	FlagSetSandbox FlagSetFlags = 1 << iota
	FlagSetDefault              = FlagSetSandbox
)

// Meta contains the meta-options and functionality that nearly every
// ai-run command inherits.
type Meta struct {
	Ui cli.Ui

	// Whether to not-colorize output
	noColor bool

	// Whether to force colorized output
	forceColor bool

	// configPath is the optional HCL agent configuration file
	configPath string

	// logLevel overrides the configured log level
	logLevel string
}

// FlagSet returns a FlagSet with the common flags that every
// command implements. Commands that build or inspect sandboxes also get
// the configuration flags with FlagSetSandbox.
func (m *Meta) FlagSet(n string, fs FlagSetFlags) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)

	f.BoolVar(&m.noColor, "no-color", false, "")
	f.BoolVar(&m.forceColor, "force-color", false, "")

	if fs&FlagSetSandbox != 0 {
		f.StringVar(&m.configPath, "config", os.Getenv(EnvAIRunConfig), "")
		f.StringVar(&m.logLevel, "log-level", "", "")
	}

	f.SetOutput(&uiErrorWriter{ui: m.Ui})

	return f
}

// AutocompleteFlags returns a set of flag completions for the given flag set.
func (m *Meta) AutocompleteFlags(fs FlagSetFlags) complete.Flags {
	flags := complete.Flags{
		"-no-color":    complete.PredictNothing,
		"-force-color": complete.PredictNothing,
	}
	if fs&FlagSetSandbox != 0 {
		flags["-config"] = complete.PredictFiles("*.hcl")
		flags["-log-level"] = complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR")
	}
	return flags
}

// loadConfig returns the defaults merged with the -config file and the
// command line overrides.
func (m *Meta) loadConfig(overrides *sandbox.Config) (*sandbox.Config, error) {
	config := sandbox.DefaultConfig()

	if m.configPath != "" {
		file, err := sandbox.LoadConfigFile(m.configPath)
		if err != nil {
			return nil, err
		}
		config = config.Merge(file)
	}

	if overrides != nil {
		config = config.Merge(overrides)
	}
	if m.logLevel != "" {
		config.LogLevel = strings.ToUpper(m.logLevel)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Logger returns the root logger of a command, writing to stderr.
func (m *Meta) Logger(level string) hclog.Logger {
	color := hclog.AutoColor
	if m.noColor {
		color = hclog.ColorOff
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "ai-run",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
		Color:  color,
	})
}

func (m *Meta) Colorize() *colorstring.Colorize {
	_, coloredUi := m.Ui.(*cli.ColoredUi)

	return &colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !coloredUi,
		Reset:   true,
	}
}

func (m *Meta) SetupUi(args []string) {
	noColor := os.Getenv(EnvAIRunCLINoColor) != ""
	forceColor := os.Getenv(EnvAIRunCLIForceColor) != ""

	for _, arg := range args {
		// Check if color is set
		if arg == "-no-color" || arg == "--no-color" {
			noColor = true
		} else if arg == "-force-color" || arg == "--force-color" {
			forceColor = true
		}
	}
	m.noColor = noColor

	m.Ui = &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      colorable.NewColorableStdout(),
		ErrorWriter: colorable.NewColorableStderr(),
	}

	// Only use colored UI if not disabled and stdout is a tty or colors are
	// forced.
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	useColor := !noColor && (isTerminal || forceColor)
	if useColor {
		m.Ui = &cli.ColoredUi{
			ErrorColor: cli.UiColorRed,
			WarnColor:  cli.UiColorYellow,
			InfoColor:  cli.UiColorGreen,
			Ui:         m.Ui,
		}
	}
}

// generalOptionsUsage returns the help string for the global options.
func generalOptionsUsage(fs FlagSetFlags) string {
	helpText := `
  -no-color
    Disables colored command output. Alternatively, AI_RUN_CLI_NO_COLOR may be
    set. This option takes precedence over -force-color.

  -force-color
    Forces colored command output. This can be used in cases where the usual
    terminal detection fails. Alternatively, AI_RUN_CLI_FORCE_COLOR may be set.
    This option has no effect if -no-color is also used.
`

	sandboxText := `
  -config=<path>
    Path to an HCL configuration file. Values set on the command line take
    precedence. Overrides the AI_RUN_CONFIG environment variable if set.

  -log-level=<level>
    Specify the verbosity level of the log output. Valid values include TRACE,
    DEBUG, INFO, WARN and ERROR. Defaults to INFO.
`

	if fs&FlagSetSandbox != 0 {
		helpText = helpText + sandboxText
	}
	return strings.TrimSpace(helpText)
}

// funcVar is a type of flag that accepts a function that is the string given
// by the user.
type funcVar func(s string) error

func (f funcVar) Set(s string) error { return f(s) }
func (f funcVar) String() string     { return "" }
func (f funcVar) IsBoolFlag() bool   { return false }

// errorf reports a usage error the way every command does.
func (m *Meta) errorf(cmd NamedCommand, format string, args ...any) int {
	m.Ui.Error(fmt.Sprintf(format, args...))
	m.Ui.Error(commandErrorText(cmd))
	return 1
}
