package validation

import (
	"net"
	"strings"
)

// IPInSubnets reports whether ip is allowed by the configured subnet list.
// An empty list allows everything. Each rule may be an exact IP, a CIDR
// block (v4 or v6), or a wildcard pattern such as "10.*.*.*".
func IPInSubnets(ip string, subnets []string) bool {
	if len(subnets) == 0 {
		return true
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	for _, rule := range subnets {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if matchSubnetRule(ip, parsed, rule) {
			return true
		}
	}
	return false
}

func matchSubnetRule(raw string, ip net.IP, rule string) bool {
	// CIDR block
	if strings.Contains(rule, "/") {
		_, block, err := net.ParseCIDR(rule)
		if err != nil || ip == nil {
			return false
		}
		return block.Contains(ip)
	}
	// Wildcard pattern, octet-wise
	if strings.Contains(rule, "*") {
		return matchWildcard(raw, rule)
	}
	// Exact match
	ruleIP := net.ParseIP(rule)
	if ruleIP != nil && ip != nil {
		return ruleIP.Equal(ip)
	}
	return raw == rule
}

func matchWildcard(ip, pattern string) bool {
	ipParts := strings.Split(ip, ".")
	patParts := strings.Split(pattern, ".")
	if len(ipParts) != len(patParts) {
		return false
	}
	for i, p := range patParts {
		if p == "*" {
			continue
		}
		if p != ipParts[i] {
			return false
		}
	}
	return true
}
