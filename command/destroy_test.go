// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/ai-run/ci"
	"github.com/hashicorp/ai-run/helper/testlog"
	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/lib/platform/mock"
	"github.com/hashicorp/ai-run/registry"
	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"
)

// deadPid is above the kernel's pid_max.
const deadPid = 99999999

func TestDestroyCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &DestroyCommand{}
}

func TestDestroyCommand_Run(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	config := writeConfig(t, dir)

	reg := registry.NewFile(testlog.HCLogger(t), filepath.Join(dir, "sessions.json"))
	_, err := reg.Register(registry.Session{PID: deadPid, User: "alice", Started: time.Now()})
	must.NoError(t, err)

	// a leftover resolver file
	must.NoError(t, os.MkdirAll(filepath.Join(dir, "run"), 0o755))
	must.NoError(t, os.WriteFile(filepath.Join(dir, "run", "resolv.conf"), []byte("nameserver 8.8.8.8\n"), 0o644))

	p, j := mockPlatform()
	ui := cli.NewMockUi()
	cmd := &DestroyCommand{Meta: Meta{Ui: ui}, platform: p}

	must.Zero(t, cmd.Run([]string{"-config", config}))
	must.Eq(t, "Removed 1 stale session(s)\nCleanup complete\n", ui.OutputWriter.String())
	must.Eq(t, []string{"link delete veth-host"}, j.Entries())

	sessions, err := reg.List()
	must.NoError(t, err)
	must.SliceEmpty(t, sessions)
	must.FileNotExists(t, filepath.Join(dir, "run", "resolv.conf"))
}

func TestDestroyCommand_running(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	config := writeConfig(t, dir)

	reg := registry.NewFile(testlog.HCLogger(t), filepath.Join(dir, "sessions.json"))
	_, err := reg.Register(registry.Session{PID: os.Getpid(), User: "alice", Started: time.Now()})
	must.NoError(t, err)

	p, j := mockPlatform()
	ui := cli.NewMockUi()
	cmd := &DestroyCommand{Meta: Meta{Ui: ui}, platform: p}

	must.Eq(t, 1, cmd.Run([]string{"-config", config}))
	must.StrContains(t, ui.ErrorWriter.String(), fmt.Sprintf("pid %d", os.Getpid()))
	must.SliceEmpty(t, j.Entries())
	resetUI(ui)

	must.Zero(t, cmd.Run([]string{"-config", config, "-force"}))
	must.Eq(t, []string{"link delete veth-host"}, j.Entries())

	// the running session is left alone
	sessions, err := reg.List()
	must.NoError(t, err)
	must.Len(t, 1, sessions)
}

func TestDestroyCommand_Fails(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	config := writeConfig(t, dir)

	t.Run("misuse", func(t *testing.T) {
		ui := cli.NewMockUi()
		p, _ := mockPlatform()
		cmd := &DestroyCommand{Meta: Meta{Ui: ui}, platform: p}
		must.Eq(t, 1, cmd.Run([]string{"extra"}))
		must.StrContains(t, ui.ErrorWriter.String(), commandErrorText(cmd))
	})

	t.Run("privileges", func(t *testing.T) {
		ui := cli.NewMockUi()
		p, j := mockPlatform()
		p.Privileges = &mock.Privileges{Err: fmt.Errorf("%w: cap_net_admin", platform.ErrPrivilege)}
		cmd := &DestroyCommand{Meta: Meta{Ui: ui}, platform: p}
		must.Eq(t, 1, cmd.Run([]string{"-config", config}))
		must.StrContains(t, ui.ErrorWriter.String(), "cap_net_admin")
		must.SliceEmpty(t, j.Entries())
	})

	t.Run("teardown", func(t *testing.T) {
		ui := cli.NewMockUi()
		j := new(mock.Journal)
		p, _ := mock.New(j, mock.Failures{"link delete": fmt.Errorf("netlink: busy")})
		cmd := &DestroyCommand{Meta: Meta{Ui: ui}, platform: p}
		must.Eq(t, 1, cmd.Run([]string{"-config", config}))
		must.StrContains(t, ui.ErrorWriter.String(), "netlink: busy")
	})
}
