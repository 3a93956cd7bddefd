// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"bufio"
	"errors"
	"net/netip"
	"os"
	"strings"
)

// lookupHosts returns the addresses a hosts(5) file lists for host, in file
// order. A missing file lists nothing.
func lookupHosts(path, host string) ([]netip.Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	host = normalizeHost(host)

	var addrs []netip.Addr
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		for _, name := range fields[1:] {
			if normalizeHost(name) == host {
				addrs = append(addrs, addr.WithZone("").Unmap())
				break
			}
		}
	}
	return addrs, scanner.Err()
}

func normalizeHost(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
