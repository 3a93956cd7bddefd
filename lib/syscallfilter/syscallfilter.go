// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package syscallfilter builds and loads the deny-list syscall program of a
// sandbox. Denied calls fail with EPERM instead of killing the caller.
package syscallfilter

import (
	"fmt"
	"slices"

	"github.com/hashicorp/ai-run/lib/platform"
	hclog "github.com/hashicorp/go-hclog"
)

// Rule denies one syscall.
type Rule struct {
	Name   string
	Number int
}

// Program is an immutable deny-list: everything is allowed except Rules.
type Program struct {
	rules   []Rule
	skipped []string
}

// Rules returns the resolved rules in declaration order.
func (p *Program) Rules() []Rule { return slices.Clone(p.rules) }

// Skipped returns the names that did not resolve.
func (p *Program) Skipped() []string { return slices.Clone(p.skipped) }

// Empty reports whether no name resolved. An empty program is never loaded.
func (p *Program) Empty() bool { return len(p.rules) == 0 }

func (p *Program) numbers() []int {
	out := make([]int, 0, len(p.rules))
	for _, r := range p.rules {
		out = append(out, r.Number)
	}
	return out
}

// Builder resolves names and loads programs through a platform.SyscallFilter.
type Builder struct {
	logger hclog.Logger
	filter platform.SyscallFilter
}

// NewBuilder returns a Builder that resolves and loads through filter.
func NewBuilder(logger hclog.Logger, filter platform.SyscallFilter) *Builder {
	return &Builder{
		logger: logger.Named("syscallfilter"),
		filter: filter,
	}
}

// Build resolves names into a Program. Unknown names are logged and
// skipped. A name listed twice, or two names with the same number, yield
// one rule.
func (b *Builder) Build(names []string) *Program {
	p := new(Program)
	for _, name := range names {
		n, err := b.filter.Resolve(name)
		if err != nil {
			b.logger.Warn("unknown syscall, not blocking it", "syscall", name, "error", err)
			p.skipped = append(p.skipped, name)
			continue
		}
		if slices.ContainsFunc(p.rules, func(r Rule) bool { return r.Number == n }) {
			continue
		}
		p.rules = append(p.rules, Rule{Name: name, Number: n})
	}
	return p
}

// Load installs p into the calling thread. An empty program is a no-op.
// Rules the kernel filter rejects are logged; the remaining ones are still
// enforced.
func (b *Builder) Load(p *Program) error {
	if p.Empty() {
		b.logger.Debug("no syscalls to block, not loading a filter")
		return nil
	}

	rejected, err := b.filter.Load(p.numbers())
	for _, r := range p.rules {
		if rerr, ok := rejected[r.Number]; ok {
			b.logger.Warn("failed to add syscall rule, not blocking it", "syscall", r.Name, "error", rerr)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load syscall filter: %w", err)
	}

	b.logger.Info("syscall filter loaded", "blocked", len(p.rules)-len(rejected))
	return nil
}

// Apply builds and loads the program for names.
func (b *Builder) Apply(names []string) (*Program, error) {
	p := b.Build(names)
	if err := b.Load(p); err != nil {
		return nil, err
	}
	return p, nil
}
