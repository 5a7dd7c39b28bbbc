package tenant

import (
	"net"
	"strings"
)

// FromHost resolves the tenant subdomain from a request host. The leading
// label of a qualified hostname identifies the tenant, e.g.
// "warung.tablio.com" -> "warung". Bare hosts (localhost, IPs, single
// labels) resolve to the configured fallback tenant.
func FromHost(host, fallback string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if host == "" || host == "localhost" || net.ParseIP(host) != nil {
		return fallback
	}

	parts := strings.Split(host, ".")
	if len(parts) < 2 || parts[0] == "" {
		return fallback
	}
	return parts[0]
}
