// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package firewall

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/ai-run/ci"
	"github.com/miekg/dns"
	"github.com/shoenig/test/must"
)

// startStubDNS serves a fixed zone over UDP and returns its address.
func startStubDNS(t *testing.T, zone map[string][]string) string {
	t.Helper()

	addr := ci.LoopbackAddr()

	pc, err := net.ListenPacket("udp", addr)
	must.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		q := req.Question[0]
		records, ok := zone[q.Name]
		if !ok {
			m.SetRcode(req, dns.RcodeNameError)
			_ = w.WriteMsg(m)
			return
		}
		m.SetReply(req)
		for _, rec := range records {
			rr, err := dns.NewRR(q.Name + " 60 IN " + rec)
			if err != nil {
				continue
			}
			if rr.Header().Rrtype == q.Qtype {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stub dns server did not start")
	}
	return addr
}

func TestDNSResolver_LookupIP(t *testing.T) {
	ci.Parallel(t)

	addr := startStubDNS(t, map[string][]string{
		"example.test.": {"A 192.0.2.10", "A 192.0.2.11"},
		"dual.test.":    {"A 192.0.2.20", "AAAA 2001:db8::20"},
		"empty.test.":   {"TXT \"nothing\""},
	})
	r := NewDNSResolver(2*time.Second, addr)
	ctx := context.Background()

	addrs, err := r.LookupIP(ctx, "example.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
		netip.MustParseAddr("192.0.2.11"),
	}, addrs)

	addrs, err = r.LookupIP(ctx, "dual.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.20"),
		netip.MustParseAddr("2001:db8::20"),
	}, addrs)

	_, err = r.LookupIP(ctx, "empty.test")
	must.ErrorIs(t, err, ErrNoAddresses)

	_, err = r.LookupIP(ctx, "nowhere.test")
	must.ErrorContains(t, err, "NXDOMAIN")
}

func TestDNSResolver_fallsThroughDeadServer(t *testing.T) {
	ci.Parallel(t)

	dead := ci.LoopbackAddr()
	live := startStubDNS(t, map[string][]string{
		"example.test.": {"A 192.0.2.10"},
	})

	r := NewDNSResolver(500*time.Millisecond, dead, live)
	addrs, err := r.LookupIP(context.Background(), "example.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, addrs)
}

func TestNewSystemResolver(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()

	path := filepath.Join(dir, "resolv.conf")
	must.NoError(t, os.WriteFile(path, []byte("nameserver 10.0.0.53\nnameserver 2001:db8::53\n"), 0o644))
	r, err := NewSystemResolver(path, "")
	must.NoError(t, err)
	must.Eq(t, []string{"10.0.0.53:53", "[2001:db8::53]:53"}, r.servers)

	empty := filepath.Join(dir, "empty.conf")
	must.NoError(t, os.WriteFile(empty, []byte("search example.test\n"), 0o644))
	_, err = NewSystemResolver(empty, "")
	must.ErrorContains(t, err, "no nameservers")

	_, err = NewSystemResolver(filepath.Join(dir, "missing.conf"), "")
	must.Error(t, err)
}

func TestDNSResolver_hostsFile(t *testing.T) {
	ci.Parallel(t)

	addr := startStubDNS(t, map[string][]string{
		"example.test.": {"A 192.0.2.10"},
	})

	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	must.NoError(t, os.WriteFile(conf, []byte("nameserver 127.0.0.1\n"), 0o644))
	hosts := filepath.Join(dir, "hosts")
	must.NoError(t, os.WriteFile(hosts, []byte(`# static entries
127.0.0.1       localhost
192.0.2.99      internal.test alias.test  # build box
not-an-address  broken.test
2001:db8::99    internal.test
`), 0o644))

	r, err := NewSystemResolver(conf, hosts)
	must.NoError(t, err)
	r.servers = []string{addr}
	ctx := context.Background()

	addrs, err := r.LookupIP(ctx, "internal.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.99"),
		netip.MustParseAddr("2001:db8::99"),
	}, addrs)

	addrs, err = r.LookupIP(ctx, "ALIAS.test.")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.99")}, addrs)

	// names missing from the file still go upstream
	addrs, err = r.LookupIP(ctx, "example.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, addrs)

	_, err = r.LookupIP(ctx, "broken.test")
	must.ErrorContains(t, err, "NXDOMAIN")
}

func TestDNSResolver_missingHostsFile(t *testing.T) {
	ci.Parallel(t)

	addr := startStubDNS(t, map[string][]string{
		"example.test.": {"A 192.0.2.10"},
	})

	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	must.NoError(t, os.WriteFile(conf, []byte("nameserver 127.0.0.1\n"), 0o644))

	r, err := NewSystemResolver(conf, filepath.Join(dir, "missing-hosts"))
	must.NoError(t, err)
	r.servers = []string{addr}

	addrs, err := r.LookupIP(context.Background(), "example.test")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.10")}, addrs)
}

func TestDNSResolver_searchDomains(t *testing.T) {
	ci.Parallel(t)

	addr := startStubDNS(t, map[string][]string{
		"api.corp.test.": {"A 192.0.2.30"},
		"docs.":          {"A 192.0.2.40"},
	})

	dir := t.TempDir()
	conf := filepath.Join(dir, "resolv.conf")
	must.NoError(t, os.WriteFile(conf, []byte("search corp.test\nnameserver 127.0.0.1\noptions ndots:1\n"), 0o644))

	r, err := NewSystemResolver(conf, "")
	must.NoError(t, err)
	r.servers = []string{addr}
	ctx := context.Background()

	addrs, err := r.LookupIP(ctx, "api")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.30")}, addrs)

	// the bare name is tried after the search list
	addrs, err = r.LookupIP(ctx, "docs")
	must.NoError(t, err)
	must.SliceEqOp(t, []netip.Addr{netip.MustParseAddr("192.0.2.40")}, addrs)

	_, err = r.LookupIP(ctx, "nowhere")
	must.ErrorContains(t, err, "NXDOMAIN")
}
