// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package mock provides recording implementations of the platform
// capabilities. Every mock appends to a shared Journal so tests can assert
// ordering across capabilities.
package mock

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/ai-run/lib/platform"
)

// Journal is an ordered, concurrency safe log of platform calls.
type Journal struct {
	l       sync.Mutex
	entries []string
}

// Record appends a formatted entry.
func (j *Journal) Record(format string, args ...any) {
	j.l.Lock()
	defer j.l.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the log.
func (j *Journal) Entries() []string {
	j.l.Lock()
	defer j.l.Unlock()
	return slices.Clone(j.entries)
}

// Index returns the position of the first entry with the given prefix, or
// -1.
func (j *Journal) Index(prefix string) int {
	for i, e := range j.Entries() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// Failures maps a journal entry prefix to the error the matching call
// returns.
type Failures map[string]error

func (f Failures) match(entry string) error {
	for prefix, err := range f {
		if strings.HasPrefix(entry, prefix) {
			return err
		}
	}
	return nil
}

// record logs entry and returns the injected failure, if any.
func record(j *Journal, f Failures, format string, args ...any) error {
	entry := fmt.Sprintf(format, args...)
	j.Record("%s", entry)
	return f.match(entry)
}

// Links records link operations.
type Links struct {
	Journal  *Journal
	Failures Failures
}

func (m *Links) DeleteLink(name string) error {
	return record(m.Journal, m.Failures, "link delete %s", name)
}
func (m *Links) CreateVethPair(name, peer string) error {
	return record(m.Journal, m.Failures, "link veth %s %s", name, peer)
}
func (m *Links) MoveToNamespace(name string, pid int) error {
	return record(m.Journal, m.Failures, "link move %s %d", name, pid)
}
func (m *Links) SetAddress(name string, prefix netip.Prefix) error {
	return record(m.Journal, m.Failures, "link addr %s %s", name, prefix)
}
func (m *Links) SetUp(name string) error {
	return record(m.Journal, m.Failures, "link up %s", name)
}
func (m *Links) AddDefaultRoute(name string, gw netip.Addr) error {
	return record(m.Journal, m.Failures, "link route %s %s", name, gw)
}

// Sysctl records sysctl writes.
type Sysctl struct {
	Journal  *Journal
	Failures Failures
}

func (m *Sysctl) EnableForwarding() error {
	return record(m.Journal, m.Failures, "sysctl forwarding")
}

// PacketFilter records packet filter operations for one family and keeps
// the resulting rule state so Exists and Delete behave.
type PacketFilter struct {
	Family   platform.Family
	Journal  *Journal
	Failures Failures

	l     sync.Mutex
	rules map[string][]string
}

func key(table, chain string) string { return table + "/" + chain }

func (m *PacketFilter) ChangePolicy(table, chain, target string) error {
	return record(m.Journal, m.Failures, "%s policy %s %s %s", m.Family, table, chain, target)
}

func (m *PacketFilter) ClearChain(table, chain string) error {
	if err := record(m.Journal, m.Failures, "%s clear %s %s", m.Family, table, chain); err != nil {
		return err
	}
	m.l.Lock()
	defer m.l.Unlock()
	delete(m.rules, key(table, chain))
	return nil
}

func (m *PacketFilter) Append(table, chain string, rulespec ...string) error {
	spec := strings.Join(rulespec, " ")
	if err := record(m.Journal, m.Failures, "%s append %s %s %s", m.Family, table, chain, spec); err != nil {
		return err
	}
	m.l.Lock()
	defer m.l.Unlock()
	if m.rules == nil {
		m.rules = make(map[string][]string)
	}
	m.rules[key(table, chain)] = append(m.rules[key(table, chain)], spec)
	return nil
}

func (m *PacketFilter) AppendUnique(table, chain string, rulespec ...string) error {
	exists, err := m.Exists(table, chain, rulespec...)
	if err != nil || exists {
		return err
	}
	return m.Append(table, chain, rulespec...)
}

func (m *PacketFilter) Exists(table, chain string, rulespec ...string) (bool, error) {
	m.l.Lock()
	defer m.l.Unlock()
	return slices.Contains(m.rules[key(table, chain)], strings.Join(rulespec, " ")), nil
}

func (m *PacketFilter) Delete(table, chain string, rulespec ...string) error {
	spec := strings.Join(rulespec, " ")
	if err := record(m.Journal, m.Failures, "%s delete %s %s %s", m.Family, table, chain, spec); err != nil {
		return err
	}
	m.l.Lock()
	defer m.l.Unlock()
	k := key(table, chain)
	if i := slices.Index(m.rules[k], spec); i >= 0 {
		m.rules[k] = slices.Delete(m.rules[k], i, i+1)
		return nil
	}
	return fmt.Errorf("rule %q does not exist in %s", spec, k)
}

// Rules returns the current rules of a chain.
func (m *PacketFilter) Rules(table, chain string) []string {
	m.l.Lock()
	defer m.l.Unlock()
	return slices.Clone(m.rules[key(table, chain)])
}

// PacketFilters hands out one PacketFilter per family, sharing a journal.
type PacketFilters struct {
	Journal  *Journal
	Failures Failures

	// Unavailable families make the factory fail, like a missing
	// ip6tables binary.
	Unavailable []platform.Family

	l       sync.Mutex
	filters map[platform.Family]*PacketFilter
}

// Factory returns a platform.PacketFilterFactory backed by m.
func (m *PacketFilters) Factory() platform.PacketFilterFactory {
	return func(f platform.Family) (platform.PacketFilter, error) {
		return m.Get(f)
	}
}

// Get returns the filter for family f.
func (m *PacketFilters) Get(f platform.Family) (*PacketFilter, error) {
	if slices.Contains(m.Unavailable, f) {
		return nil, fmt.Errorf("%s packet filter unavailable", f)
	}
	m.l.Lock()
	defer m.l.Unlock()
	if m.filters == nil {
		m.filters = make(map[platform.Family]*PacketFilter)
	}
	pf, ok := m.filters[f]
	if !ok {
		pf = &PacketFilter{Family: f, Journal: m.Journal, Failures: m.Failures}
		m.filters[f] = pf
	}
	return pf, nil
}

// Mounter records mounts.
type Mounter struct {
	Journal  *Journal
	Failures Failures
}

func (m *Mounter) Mount(device, target, fstype, options string) error {
	return record(m.Journal, m.Failures, "mount %s %s %s %s", device, target, fstype, options)
}

// Namespaces records namespace operations.
type Namespaces struct {
	Journal  *Journal
	Failures Failures

	// Shared is returned by RootShared.
	Shared bool
}

func (m *Namespaces) UnshareMount() error {
	return record(m.Journal, m.Failures, "unshare mount")
}
func (m *Namespaces) MakeRootPrivate() error {
	return record(m.Journal, m.Failures, "mount private /")
}
func (m *Namespaces) UnshareNetwork() error {
	return record(m.Journal, m.Failures, "unshare network")
}
func (m *Namespaces) RootShared() (bool, error) {
	return m.Shared, nil
}

// Syscalls resolves names from Table and records loads.
type Syscalls struct {
	Journal  *Journal
	Failures Failures

	// Table maps syscall names to numbers; other names fail to resolve.
	Table map[string]int

	// Reject lists numbers Load reports as rejected.
	Reject map[int]error

	l      sync.Mutex
	loaded [][]int
}

func (m *Syscalls) Resolve(name string) (int, error) {
	n, ok := m.Table[name]
	if !ok {
		return 0, fmt.Errorf("could not resolve syscall name %s", name)
	}
	return n, nil
}

func (m *Syscalls) Load(numbers []int) (map[int]error, error) {
	strs := make([]string, 0, len(numbers))
	for _, n := range numbers {
		strs = append(strs, fmt.Sprint(n))
	}
	if err := record(m.Journal, m.Failures, "seccomp load %s", strings.Join(strs, " ")); err != nil {
		return nil, err
	}

	m.l.Lock()
	defer m.l.Unlock()
	m.loaded = append(m.loaded, slices.Clone(numbers))

	rejected := make(map[int]error)
	for _, n := range numbers {
		if err, ok := m.Reject[n]; ok {
			rejected[n] = err
		}
	}
	return rejected, nil
}

// Loaded returns every program passed to Load.
func (m *Syscalls) Loaded() [][]int {
	m.l.Lock()
	defer m.l.Unlock()
	return slices.Clone(m.loaded)
}

// DefaultSyscalls is the table used by New, a subset of the x86_64 numbers.
var DefaultSyscalls = map[string]int{
	"ptrace":        101,
	"mount":         165,
	"init_module":   175,
	"delete_module": 176,
	"kexec_load":    246,
	"finit_module":  313,
}

// Privileges returns Err from Check.
type Privileges struct {
	Err error
}

func (m *Privileges) Check() error { return m.Err }

// New returns a Platform where every capability records into j.
func New(j *Journal, f Failures) (*platform.Platform, *PacketFilters) {
	pfs := &PacketFilters{Journal: j, Failures: f}
	return &platform.Platform{
		Namespaces:    &Namespaces{Journal: j, Failures: f},
		Links:         &Links{Journal: j, Failures: f},
		Sysctl:        &Sysctl{Journal: j, Failures: f},
		PacketFilters: pfs.Factory(),
		Mounter:       &Mounter{Journal: j, Failures: f},
		Syscalls:      &Syscalls{Journal: j, Failures: f, Table: DefaultSyscalls},
		Privileges:    &Privileges{},
	}, pfs
}
