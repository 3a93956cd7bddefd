// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package syscallfilter

import (
	"errors"
	"testing"

	"github.com/hashicorp/ai-run/ci"
	"github.com/hashicorp/ai-run/helper/testlog"
	"github.com/hashicorp/ai-run/lib/platform/mock"
	"github.com/shoenig/test/must"
)

func testBuilder(t *testing.T, f mock.Failures) (*Builder, *mock.Syscalls, *testlog.Buffer) {
	logger, buf := testlog.HCLoggerNode(t, 0)
	sc := &mock.Syscalls{Journal: new(mock.Journal), Failures: f, Table: mock.DefaultSyscalls}
	return NewBuilder(logger, sc), sc, buf
}

func TestBuilder_Build(t *testing.T) {
	ci.Parallel(t)

	b, _, buf := testBuilder(t, nil)
	p := b.Build([]string{"ptrace", "bogus_name", "kexec_load", "ptrace"})

	must.Eq(t, []Rule{
		{Name: "ptrace", Number: 101},
		{Name: "kexec_load", Number: 246},
	}, p.Rules())
	must.Eq(t, []string{"bogus_name"}, p.Skipped())
	must.False(t, p.Empty())
	must.True(t, buf.Contains("unknown syscall"))
}

func TestBuilder_Apply(t *testing.T) {
	ci.Parallel(t)

	b, sc, _ := testBuilder(t, nil)
	p, err := b.Apply([]string{"ptrace", "bogus_name"})
	must.NoError(t, err)
	must.Eq(t, []string{"bogus_name"}, p.Skipped())
	must.Eq(t, [][]int{{101}}, sc.Loaded())
}

func TestBuilder_Apply_nothingResolved(t *testing.T) {
	ci.Parallel(t)

	b, sc, _ := testBuilder(t, nil)

	p, err := b.Apply(nil)
	must.NoError(t, err)
	must.True(t, p.Empty())

	p, err = b.Apply([]string{"bogus_name", "also_bogus"})
	must.NoError(t, err)
	must.True(t, p.Empty())
	must.Len(t, 2, p.Skipped())

	must.SliceEmpty(t, sc.Loaded())
	must.SliceEmpty(t, sc.Journal.Entries())
}

func TestBuilder_Load_rejectedRule(t *testing.T) {
	ci.Parallel(t)

	b, sc, buf := testBuilder(t, nil)
	sc.Reject = map[int]error{246: errors.New("invalid argument")}

	_, err := b.Apply([]string{"ptrace", "kexec_load"})
	must.NoError(t, err)
	must.True(t, buf.Contains("failed to add syscall rule"))
	must.True(t, buf.Contains("blocked=1"))
}

func TestBuilder_Load_failure(t *testing.T) {
	ci.Parallel(t)

	boom := errors.New("seccomp unavailable")
	b, _, _ := testBuilder(t, mock.Failures{"seccomp load": boom})

	p, err := b.Apply([]string{"ptrace"})
	must.ErrorIs(t, err, boom)
	must.Nil(t, p)
}

func TestProgram_immutable(t *testing.T) {
	ci.Parallel(t)

	b, _, _ := testBuilder(t, nil)
	p := b.Build([]string{"ptrace"})

	rules := p.Rules()
	rules[0].Number = 0
	must.Eq(t, 101, p.Rules()[0].Number)
}
