package pdf

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// blockedPrefixes are non-public ranges beyond what netip reports as
// private, loopback or link-local.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// isPrivateAddr reports whether addr must not be fetched from.
func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// checkURL allows only http and https URLs with a host, and rejects hosts
// resolving to private addresses unless private networks are allowed.
func (f *Fetcher) checkURL(ctx context.Context, u *url.URL) error {
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", domain.ErrBlockedURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: %q has no host", domain.ErrBlockedURL, u.String())
	}
	if f.config.AllowPrivateNetworks {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s is a private address", domain.ErrBlockedURL, host)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", domain.ErrNetwork, host, err)
	}
	for _, addr := range addrs {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s resolves to private address %s", domain.ErrBlockedURL, host, addr)
		}
	}
	return nil
}
