// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"os/exec"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/shoenig/test/must"
)

func TestExitStatus(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		script string
		exp    int
	}{
		{name: "success", script: "exit 0", exp: 0},
		{name: "code", script: "exit 3", exp: 3},
		{name: "signal", script: "kill -9 $$", exp: 137},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, err := exitStatus(exec.Command("/bin/sh", "-c", tc.script).Run())
			must.NoError(t, err)
			must.Eq(t, tc.exp, code)
		})
	}
}

func TestExitStatus_startFailure(t *testing.T) {
	ci.Parallel(t)

	code, err := exitStatus(exec.Command("/nonexistent/binary").Run())
	must.Error(t, err)
	must.Eq(t, 1, code)
}
