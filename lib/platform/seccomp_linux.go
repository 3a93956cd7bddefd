// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build linux

package platform

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

type libseccompFilter struct{}

func (libseccompFilter) Resolve(name string) (int, error) {
	sc, err := seccomp.GetSyscallFromName(name)
	if err != nil {
		return 0, err
	}
	return int(sc), nil
}

func (libseccompFilter) Load(numbers []int) (map[int]error, error) {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return nil, fmt.Errorf("failed to create seccomp filter: %w", err)
	}
	defer filter.Release()

	if err := filter.SetNoNewPrivsBit(true); err != nil {
		return nil, fmt.Errorf("failed to set no_new_privs: %w", err)
	}

	// apply to every thread of the process, not only the caller
	if err := filter.SetTsync(true); err != nil {
		return nil, fmt.Errorf("failed to enable filter thread sync: %w", err)
	}

	deny := seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	rejected := make(map[int]error)
	for _, n := range numbers {
		if err := filter.AddRule(seccomp.ScmpSyscall(n), deny); err != nil {
			rejected[n] = err
		}
	}

	if err := filter.Load(); err != nil {
		return rejected, fmt.Errorf("failed to load seccomp filter: %w", err)
	}
	return rejected, nil
}
