// Package safeurl vets URLs before the browser is pointed at them.
// Remote callers of the API could otherwise make Chrome fetch loopback
// or intranet addresses on the server's behalf.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL     = errors.New("safeurl: invalid URL")
	ErrUnsafeScheme   = errors.New("safeurl: only http and https schemes are allowed")
	ErrPrivateAddress = errors.New("safeurl: URL targets a private or loopback address")
)

// Policy controls Check.
type Policy struct {
	// AllowPrivate skips the address check; the scheme check still applies.
	AllowPrivate bool
	// Resolver looks up host names. Nil uses net.DefaultResolver.
	Resolver *net.Resolver
}

// Check validates rawURL: http or https, a host, and, unless the policy
// allows it, no private, loopback or link-local address. Host names are
// resolved so internal names cannot slip through. A failed lookup passes;
// the browser reports the navigation error itself.
func Check(ctx context.Context, rawURL string, p Policy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	if p.AllowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivate(addr) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}

	r := p.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if IsPrivate(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a)
		}
	}
	return nil
}

// IsPrivate reports whether addr is loopback, link-local, unspecified or
// in an RFC 1918 / RFC 4193 range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
