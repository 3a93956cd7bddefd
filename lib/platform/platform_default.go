// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build !linux

package platform

import "errors"

// ErrPrivilege is returned by Privileges.Check when a capability is absent.
var ErrPrivilege = errors.New("missing required privilege")

type unsupported struct{}

func (unsupported) Check() error { return ErrUnsupported }

func (unsupported) Resolve(string) (int, error) { return 0, ErrUnsupported }

func (unsupported) Load([]int) (map[int]error, error) { return nil, ErrUnsupported }

// Default returns a Platform whose only capability reports ErrUnsupported.
// Callers check privileges first, so nothing else is reached.
func Default() *Platform {
	return &Platform{
		Privileges: unsupported{},
		Syscalls:   unsupported{},
		PacketFilters: func(Family) (PacketFilter, error) {
			return nil, ErrUnsupported
		},
	}
}
