// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/ai-run/helper/fileperms"
)

// DefaultFileName is the name `ai-run create` writes.
const DefaultFileName = "policy.yaml"

// DefaultPolicy is the starting policy written by `ai-run create`.
const DefaultPolicy = `# AI Sandbox Security Policy
protected_files:
  - ~/.ssh
  - ~/.env
  - ~/.aws
  - ~/.gnupg
  - ~/.config/gh

# Domains or IP addresses reachable on ports 80 and 443. An empty list
# allows HTTP(S) to any address.
network_whitelist: []

# DENY or ALLOW
default_network_policy: DENY

# Allow HTTP(S) to any address. This bypasses network_whitelist.
allow_all_https: false

# Syscalls that fail with EPERM inside the sandbox.
blocked_syscalls:
  - ptrace
  - kexec_load
  - init_module
  - finit_module
  - delete_module
`

// WriteDefault writes DefaultPolicy to path. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, fileperms.Oct644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("policy file %q already exists", path)
		}
		return fmt.Errorf("failed to create policy file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(DefaultPolicy); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}
	return f.Close()
}
