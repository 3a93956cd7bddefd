// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/hashicorp/ai-run/policy"
	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"
)

func TestCreateCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &CreateCommand{}
}

func TestCreateCommand_Run(t *testing.T) {
	ci.Parallel(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	ui := cli.NewMockUi()
	cmd := &CreateCommand{Meta: Meta{Ui: ui}}

	// Fails on misuse
	ec := cmd.Run([]string{"some", "bad", "args"})
	must.Eq(t, 1, ec)
	must.StrContains(t, ui.ErrorWriter.String(), commandErrorText(cmd))
	must.Eq(t, "", ui.OutputWriter.String())
	resetUI(ui)

	// Works if the file doesn't exist
	ec = cmd.Run([]string{path})
	must.Zero(t, ec)
	must.Eq(t, "", ui.ErrorWriter.String())
	must.Eq(t, "Default policy written to "+path+"\n", ui.OutputWriter.String())
	resetUI(ui)

	content, err := os.ReadFile(path)
	must.NoError(t, err)
	must.Eq(t, policy.DefaultPolicy, string(content))

	// the written policy is valid
	_, err = policy.Load(path, "alice")
	must.NoError(t, err)

	// Fails if the file exists
	must.NoError(t, os.WriteFile(path, []byte("protected_files: []\n"), 0o644))
	ec = cmd.Run([]string{path})
	must.Eq(t, 1, ec)
	must.StrContains(t, ui.ErrorWriter.String(), "already exists")
	resetUI(ui)

	// unless forced
	ec = cmd.Run([]string{"-force", path})
	must.Zero(t, ec)
	content, err = os.ReadFile(path)
	must.NoError(t, err)
	must.Eq(t, policy.DefaultPolicy, string(content))
}
