// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build unix

package users

import (
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/shoenig/test/must"
)

func TestExpandHome(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		path string
		exp  string
	}{
		{path: "~", exp: "/home/alice"},
		{path: "~/.ssh", exp: "/home/alice/.ssh"},
		{path: "~/.config/gh/", exp: "/home/alice/.config/gh"},
		{path: "/etc/shadow", exp: "/etc/shadow"},
		{path: "/srv//keys/../secrets", exp: "/srv/secrets"},
		{path: "~bob/.ssh", exp: "~bob/.ssh"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			must.Eq(t, tc.exp, ExpandHome(tc.path, "/home/alice"))
		})
	}
}

func TestRealUser_sudo(t *testing.T) {
	t.Setenv(EnvSudoUser, "root")

	u, err := RealUser()
	must.NoError(t, err)
	must.Eq(t, "root", u.Name)
	must.Eq(t, "/root", u.Home)
}
