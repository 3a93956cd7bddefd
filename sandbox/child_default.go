// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build !linux

package sandbox

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
