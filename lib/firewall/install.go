// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package firewall compiles the network section of a sandbox policy into an
// ordered packet filter program and loads it into the calling thread's
// network namespace.
package firewall

import (
	"context"
	"fmt"

	"github.com/hashicorp/ai-run/lib/platform"
	"github.com/hashicorp/ai-run/policy"
	hclog "github.com/hashicorp/go-hclog"
)

// Installer loads compiled programs through the platform packet filters.
type Installer struct {
	logger   hclog.Logger
	filters  platform.PacketFilterFactory
	resolver Resolver
}

// NewInstaller returns an Installer. The resolver is only consulted once the
// base program is live, so it may point at a server that is reachable only
// through the mandatory DNS allows.
func NewInstaller(logger hclog.Logger, filters platform.PacketFilterFactory, resolver Resolver) *Installer {
	return &Installer{
		logger:   logger.Named("firewall"),
		filters:  filters,
		resolver: resolver,
	}
}

// Install loads the full program for p and returns what was loaded. IPv4 is
// required; if the IPv6 filter is unavailable the sandbox runs without IPv6
// filtering and a warning is logged. The deny-all default and mandatory
// allows are loaded before any whitelist domain is resolved.
func (i *Installer) Install(ctx context.Context, p *policy.Policy) (*RuleSet, error) {
	loaded := make(map[platform.Family]platform.PacketFilter)
	families := make([]platform.Family, 0, 2)

	for _, f := range []platform.Family{platform.IPv4, platform.IPv6} {
		pf, err := i.filters(f)
		if err != nil {
			if f == platform.IPv4 {
				return nil, fmt.Errorf("failed to open %s packet filter: %w", f, err)
			}
			i.logger.Warn("packet filter unavailable, family not restricted", "family", f, "error", err)
			continue
		}
		loaded[f] = pf
		families = append(families, f)
	}

	compiler := NewCompiler(i.logger, i.resolver, families...)

	base := compiler.Base()
	if err := i.load(loaded, base); err != nil {
		return nil, err
	}
	i.logger.Debug("default deny installed", "rules", base.Len())

	restricted := compiler.Restricted(ctx, p)
	if err := i.load(loaded, restricted); err != nil {
		return nil, err
	}

	base.extend(restricted)
	i.logger.Info("firewall installed",
		"mode", p.NetworkMode(),
		"whitelist_rules", len(base.Stage(StageWhitelist)),
		"open_egress", p.OpenEgress(),
	)
	return base, nil
}

func (i *Installer) load(filters map[platform.Family]platform.PacketFilter, rs *RuleSet) error {
	for _, r := range rs.rules {
		pf, ok := filters[r.Family]
		if !ok {
			continue
		}

		var err error
		switch r.Op {
		case OpPolicy:
			err = pf.ChangePolicy(Table, r.Chain, r.Target)
		case OpFlush:
			err = pf.ClearChain(Table, r.Chain)
		case OpAppend:
			err = pf.Append(Table, r.Chain, r.Spec()...)
		}
		if err != nil {
			return fmt.Errorf("failed to load %s rule %q: %w", r.Stage, r, err)
		}
	}
	return nil
}
