package netutil

import (
	"fmt"
	"net"
)

// MustParseCIDRs parses CIDR strings into []*net.IPNet. The list guards
// admin endpoints, so a malformed entry fails startup rather than silently
// shrinking the allowlist.
func MustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			panic(fmt.Sprintf("netutil: invalid CIDR %q: %v", s, err))
		}
		out = append(out, n)
	}
	return out
}
