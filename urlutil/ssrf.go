package urlutil

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// LookupFunc resolves a hostname to addresses. Swappable in tests.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// GuardPrivate resolves the URL's host and rejects targets in loopback,
// link-local, RFC-1918, and CGNAT ranges. lookup may be nil to use the
// default resolver.
func GuardPrivate(ctx context.Context, rawURL string, lookup LookupFunc) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()

	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return fmt.Errorf("address %s is in a private range", ip)
		}
		return nil
	}

	if lookup == nil {
		lookup = defaultLookup
	}
	ips, err := lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivate(ip) {
			return fmt.Errorf("host %s resolves to private address %s", host, ip)
		}
	}
	return nil
}

var cgnat = mustCIDR("100.64.0.0/10")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		cgnat.Contains(ip)
}
