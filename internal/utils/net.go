package utils

import (
	"net/netip"
	"net/url"
	"strings"
)

// AnonymizeIP zeroes the host part of an address: the last octet for IPv4,
// everything past the /48 network for IPv6. Unparseable input is returned as is.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ip
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}

// SafeRedirect reports whether target is a same-origin redirect for host.
// Relative paths must start with a single "/"; absolute URLs must point at
// host, and use https when requireHTTPS is set.
func SafeRedirect(target string, host string, requireHTTPS bool) bool {
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}
	if strings.HasPrefix(target, "//") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(target, "/")
	}
	if u.User != nil {
		return false
	}
	switch u.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return false
		}
	default:
		return false
	}
	return strings.EqualFold(u.Host, host)
}
