// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DefaultResolvConf is read for upstream servers by NewSystemResolver.
const DefaultResolvConf = "/etc/resolv.conf"

// DefaultHostsFile is consulted before any upstream server.
const DefaultHostsFile = "/etc/hosts"

// ErrNoAddresses is returned when a name resolves to neither A nor AAAA
// records.
var ErrNoAddresses = errors.New("no addresses found")

// Resolver looks up the addresses of a whitelist domain.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver resolves names the way the system resolver does: a hosts file
// first, then each search-expanded candidate against the upstream servers
// in order.
type DNSResolver struct {
	servers []string
	client  *dns.Client

	// hostsFile is skipped when empty
	hostsFile string

	// nameList expands a name into its search candidates
	nameList func(string) []string
}

// NewDNSResolver returns a resolver for servers, each in host:port form.
// Names are queried as given.
func NewDNSResolver(timeout time.Duration, servers ...string) *DNSResolver {
	return &DNSResolver{
		servers: servers,
		client:  &dns.Client{Timeout: timeout},
	}
}

// NewSystemResolver returns a resolver for the nameservers, search domains
// and ndots option of the resolv.conf at path. Names listed in hostsFile
// win over DNS; an empty hostsFile disables the lookup.
func NewSystemResolver(path, hostsFile string) (*DNSResolver, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}

	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	timeout := time.Duration(conf.Timeout) * time.Second

	r := NewDNSResolver(timeout, servers...)
	r.hostsFile = hostsFile
	r.nameList = conf.NameList
	return r, nil
}

// LookupIP returns the addresses of host. A hosts file entry is returned as
// is; otherwise the first search candidate with A or AAAA records wins.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if r.hostsFile != "" {
		addrs, err := lookupHosts(r.hostsFile, host)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", host, err)
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}

	candidates := []string{dns.Fqdn(host)}
	if r.nameList != nil {
		candidates = r.nameList(host)
	}

	var lastErr error = ErrNoAddresses
	for _, name := range candidates {
		addrs, err := r.lookupName(ctx, name)
		if err == nil {
			return addrs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", host, lastErr)
}

// lookupName queries the A and AAAA records of a fully qualified name. It
// fails only if neither query produced an address.
func (r *DNSResolver) lookupName(ctx context.Context, name string) ([]netip.Addr, error) {
	var (
		addrs   []netip.Addr
		lastErr error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, name, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, found...)
	}

	if len(addrs) > 0 {
		return addrs, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoAddresses
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)

	var lastErr error = ErrNoAddresses
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			// authoritative negative answers are not retried elsewhere
			return nil, fmt.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[in.Rcode])
		}

		var addrs []netip.Addr
		for _, rr := range in.Answer {
			var ip net.IP
			switch rec := rr.(type) {
			case *dns.A:
				ip = rec.A
			case *dns.AAAA:
				ip = rec.AAAA
			default:
				continue
			}
			if a, ok := netip.AddrFromSlice(ip); ok {
				addrs = append(addrs, a.Unmap())
			}
		}
		return addrs, nil
	}
	return nil, lastErr
}
