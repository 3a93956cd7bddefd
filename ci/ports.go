// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ci

import (
	"fmt"
	"net"
	"strconv"

	"github.com/shoenig/test/portal"
)

// loopback is where test listeners bind.
const loopback = "127.0.0.1"

type panicTester struct{}

func (panicTester) Fatalf(msg string, args ...any) {
	panic(fmt.Sprintf("ci: "+msg, args...))
}

// PortAllocator hands out unused loopback ports for real listeners.
var PortAllocator = portal.New(panicTester{}, portal.WithAddress(loopback))

// LoopbackAddr returns a loopback host:port nothing is listening on yet,
// such as the address of a stub DNS server.
func LoopbackAddr() string {
	return net.JoinHostPort(loopback, strconv.Itoa(PortAllocator.One()))
}
