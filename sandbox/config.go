// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package sandbox

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/docker/go-units"
	"github.com/hashicorp/ai-run/helper/hcl"
	"github.com/hashicorp/ai-run/lib/conceal"
	"github.com/hashicorp/ai-run/lib/netbridge"
	"github.com/hashicorp/ai-run/registry"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
)

const (
	// DefaultShell is executed when no command is given.
	DefaultShell = "/bin/bash"

	// maxInterfaceName is IFNAMSIZ minus the terminating NUL.
	maxInterfaceName = 15
)

// Config tunes a sandbox session. It is read from an optional HCL file and
// sent to the confined process as part of its bootstrap.
type Config struct {
	HostInterface    string       `hcl:"host_interface,optional" codec:"host_interface"`
	SandboxInterface string       `hcl:"sandbox_interface,optional" codec:"sandbox_interface"`
	HostAddress      netip.Prefix `hcl:"host_address,optional" codec:"host_address"`
	SandboxAddress   netip.Prefix `hcl:"sandbox_address,optional" codec:"sandbox_address"`
	DNSServer        netip.Addr   `hcl:"dns_server,optional" codec:"dns_server"`

	// ResolvConf is overlaid in the sandbox; RuntimeDir holds the file bound
	// over it.
	ResolvConf string `hcl:"resolv_conf,optional" codec:"resolv_conf"`
	RuntimeDir string `hcl:"runtime_dir,optional" codec:"runtime_dir"`

	RegistryPath string `hcl:"registry_path,optional" codec:"registry_path"`
	Shell        string `hcl:"shell,optional" codec:"shell"`
	TmpfsSize    string `hcl:"tmpfs_size,optional" codec:"tmpfs_size"`

	// NamespaceTimeout bounds the controller's wait for the confined
	// process's namespaces; NetworkTimeout bounds the confined process's
	// wait for the host side of the bridge.
	NamespaceTimeout time.Duration `hcl:"namespace_timeout,optional" codec:"namespace_timeout"`
	NetworkTimeout   time.Duration `hcl:"network_timeout,optional" codec:"network_timeout"`

	LogLevel string `hcl:"log_level,optional" codec:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HostInterface:    netbridge.DefaultHostIf,
		SandboxInterface: netbridge.DefaultSandboxIf,
		HostAddress:      netbridge.DefaultHostAddr,
		SandboxAddress:   netbridge.DefaultSandboxAddr,
		DNSServer:        netbridge.DefaultDNSServer,
		ResolvConf:       netbridge.DefaultResolvConf,
		RuntimeDir:       netbridge.DefaultRuntimeDir,
		RegistryPath:     registry.DefaultPath,
		Shell:            DefaultShell,
		TmpfsSize:        conceal.DefaultTmpfsSize,
		NamespaceTimeout: 10 * time.Second,
		NetworkTimeout:   30 * time.Second,
		LogLevel:         "INFO",
	}
}

// LoadConfigFile decodes the HCL file at path. Unset fields are left zero;
// merge the result over DefaultConfig.
func LoadConfigFile(path string) (*Config, error) {
	var c Config
	if err := hcl.NewParser().ParseFile(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Copy returns a copy of c.
func (c *Config) Copy() *Config {
	if c == nil {
		return nil
	}
	nc := *c
	return &nc
}

// Merge returns a new Config with every set field of b overriding a.
func (c *Config) Merge(b *Config) *Config {
	result := c.Copy()
	if b == nil {
		return result
	}

	if b.HostInterface != "" {
		result.HostInterface = b.HostInterface
	}
	if b.SandboxInterface != "" {
		result.SandboxInterface = b.SandboxInterface
	}
	if b.HostAddress.IsValid() {
		result.HostAddress = b.HostAddress
	}
	if b.SandboxAddress.IsValid() {
		result.SandboxAddress = b.SandboxAddress
	}
	if b.DNSServer.IsValid() {
		result.DNSServer = b.DNSServer
	}
	if b.ResolvConf != "" {
		result.ResolvConf = b.ResolvConf
	}
	if b.RuntimeDir != "" {
		result.RuntimeDir = b.RuntimeDir
	}
	if b.RegistryPath != "" {
		result.RegistryPath = b.RegistryPath
	}
	if b.Shell != "" {
		result.Shell = b.Shell
	}
	if b.TmpfsSize != "" {
		result.TmpfsSize = b.TmpfsSize
	}
	if b.NamespaceTimeout != 0 {
		result.NamespaceTimeout = b.NamespaceTimeout
	}
	if b.NetworkTimeout != 0 {
		result.NetworkTimeout = b.NetworkTimeout
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	return result
}

// Validate checks c for values the kernel or the bridge would reject.
func (c *Config) Validate() error {
	var mErr multierror.Error

	for _, name := range []string{c.HostInterface, c.SandboxInterface} {
		switch {
		case name == "":
			_ = multierror.Append(&mErr, errors.New("interface names must not be empty"))
		case len(name) > maxInterfaceName:
			_ = multierror.Append(&mErr, fmt.Errorf("interface name %q is longer than %d characters", name, maxInterfaceName))
		}
	}
	if c.HostInterface != "" && c.HostInterface == c.SandboxInterface {
		_ = multierror.Append(&mErr, fmt.Errorf("host and sandbox interface are both %q", c.HostInterface))
	}

	switch {
	case !c.HostAddress.IsValid() || !c.SandboxAddress.IsValid():
		_ = multierror.Append(&mErr, errors.New("host and sandbox addresses are required"))
	case c.HostAddress.Masked() != c.SandboxAddress.Masked():
		_ = multierror.Append(&mErr, fmt.Errorf("host address %s and sandbox address %s are not in the same subnet", c.HostAddress, c.SandboxAddress))
	case c.HostAddress.Addr() == c.SandboxAddress.Addr():
		_ = multierror.Append(&mErr, fmt.Errorf("host and sandbox address are both %s", c.HostAddress.Addr()))
	}

	if !c.DNSServer.IsValid() {
		_ = multierror.Append(&mErr, errors.New("dns_server is required"))
	}
	if c.NamespaceTimeout <= 0 {
		_ = multierror.Append(&mErr, fmt.Errorf("namespace_timeout must be positive, got %s", c.NamespaceTimeout))
	}
	if c.NetworkTimeout <= 0 {
		_ = multierror.Append(&mErr, fmt.Errorf("network_timeout must be positive, got %s", c.NetworkTimeout))
	}
	if _, err := units.RAMInBytes(c.TmpfsSize); err != nil {
		_ = multierror.Append(&mErr, fmt.Errorf("invalid tmpfs_size %q: %w", c.TmpfsSize, err))
	}
	if c.LogLevel != "" && hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		_ = multierror.Append(&mErr, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	return mErr.ErrorOrNil()
}

// Bridge is the network bridge configuration described by c.
func (c *Config) Bridge() netbridge.Config {
	return netbridge.Config{
		HostIf:      c.HostInterface,
		SandboxIf:   c.SandboxInterface,
		HostAddr:    c.HostAddress,
		SandboxAddr: c.SandboxAddress,
		DNSServer:   c.DNSServer,
		ResolvConf:  c.ResolvConf,
		RuntimeDir:  c.RuntimeDir,
	}
}
