package proxy

import (
	"net"
	"strings"
)

// ExtractSubdomain implements the gateway's host-to-resource-id mapping
// (spec step 3): the Host header is stripped of any port, rejected if it
// parses as an IP literal, and otherwise split at its first '.'; the
// leftmost label is the resource ID. A bare, dot-free host (no label to
// split off) has nothing to extract.
func ExtractSubdomain(hostHeader string) (resourceID string, ok bool) {
	host := hostHeader
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		host = h
	}

	if net.ParseIP(host) != nil {
		return "", false
	}

	idx := strings.IndexByte(host, '.')
	if idx < 0 {
		return "", false
	}
	return host[:idx], true
}
