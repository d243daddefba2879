package helper

import (
	"net"
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address (host or host:port) matches any pattern
// in hosts. Patterns may be a bare host, a host:port pair, or a glob using
// '*'/'?' wildcards in either the host or port position (e.g. "*.example.com").
func MatchHost(address string, hosts []string) bool {
	addrHost, addrPort := splitHostPortBestEffort(address)

	for _, pattern := range hosts {
		patHost, patPort := splitHostPortBestEffort(pattern)

		if patPort != "" && patPort != addrPort {
			continue
		}
		if match.Match(strings.ToLower(addrHost), strings.ToLower(patHost)) {
			return true
		}
	}
	return false
}

func splitHostPortBestEffort(s string) (host, port string) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return s, ""
	}
	return h, p
}
