// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build unix

package users

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

const (
	// EnvSudoUser is set by sudo to the name of the user who invoked it.
	EnvSudoUser = "SUDO_USER"
)

// Invoker describes the human who started ai-run; under sudo this is not the
// user the process runs as.
type Invoker struct {
	Name string
	Home string
}

// Lookup returns the user for the given name.
func Lookup(username string) (*user.User, error) {
	return user.Lookup(username)
}

// RealUser returns the invoking user. The name comes from SUDO_USER, falling
// back to USER and finally the current uid. The home directory comes from the
// passwd entry of that user, falling back to the current user's home.
func RealUser() (*Invoker, error) {
	name := os.Getenv(EnvSudoUser)
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("failed to detect invoking user: %w", err)
		}
		name = u.Username
	}

	if u, err := Lookup(name); err == nil && u.HomeDir != "" {
		return &Invoker{Name: name, Home: u.HomeDir}, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to detect home directory of %q: %w", name, err)
	}
	return &Invoker{Name: name, Home: home}, nil
}

// ExpandHome resolves a home-relative path ("~" or "~/x") against home. Any
// other path is cleaned and returned as is.
func ExpandHome(path, home string) string {
	switch {
	case path == "~":
		return filepath.Clean(home)
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(home, path[2:])
	default:
		return filepath.Clean(path)
	}
}
