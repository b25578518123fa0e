package match

import (
	"net"
	"regexp"
)

// MatchExclude reports whether host matches any entry in excludes, each
// entry tried as a CIDR, an IP literal, or a regex (§4.13).
func MatchExclude(host string, excludes []string) bool {
	if len(excludes) == 0 {
		return false
	}
	ip := net.ParseIP(host)
	for _, e := range excludes {
		if _, network, err := net.ParseCIDR(e); err == nil {
			if ip != nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if exIP := net.ParseIP(e); exIP != nil {
			if ip != nil && ip.Equal(exIP) {
				return true
			}
			continue
		}
		if re, err := regexp.Compile(e); err == nil && re.MatchString(host) {
			return true
		}
	}
	return false
}
