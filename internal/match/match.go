// Package match implements the host matchers used by the router: CIDR
// lists, regex lists, and the built-in LAN set.
package match

import (
	"net"
	"regexp"
)

// Matcher decides whether a host (an IP literal or a domain name) matches
// a configured data set.
type Matcher interface {
	Matches(host string) bool
}

// lineKind classifies one configured line at load time.
type lineKind int

const (
	kindCIDR lineKind = iota
	kindRegex
	kindExact
)

type line struct {
	kind  lineKind
	cidr  *net.IPNet
	regex *regexp.Regexp
	exact string
}

func classify(raw string, allowRegex bool) line {
	if _, network, err := net.ParseCIDR(raw); err == nil {
		return line{kind: kindCIDR, cidr: network}
	}
	if allowRegex {
		if re, err := regexp.Compile(raw); err == nil {
			return line{kind: kindRegex, regex: re}
		}
	}
	return line{kind: kindExact, exact: raw}
}

// CIDRMatcher matches hosts that are IPs falling inside a configured CIDR,
// or that exactly equal a configured non-CIDR line (§4.12).
type CIDRMatcher struct {
	lines []line
}

// NewCIDRMatcher builds a matcher from newline-split data; each entry is
// either a CIDR prefix or retained verbatim as an exact-string host.
func NewCIDRMatcher(entries []string) *CIDRMatcher {
	m := &CIDRMatcher{}
	for _, e := range entries {
		m.lines = append(m.lines, classify(e, false))
	}
	return m
}

func (m *CIDRMatcher) Matches(host string) bool {
	ip := net.ParseIP(host)
	for _, l := range m.lines {
		switch l.kind {
		case kindCIDR:
			if ip != nil && l.cidr.Contains(ip) {
				return true
			}
		case kindExact:
			if l.exact == host {
				return true
			}
		}
	}
	return false
}

// RegexMatcher classifies each line as CIDR, regex, or exact-string (in
// that order) and matches IP hosts against CIDR/exact lines, non-IP hosts
// against regex/exact lines (§4.12).
type RegexMatcher struct {
	lines []line
}

func NewRegexMatcher(entries []string) *RegexMatcher {
	m := &RegexMatcher{}
	for _, e := range entries {
		m.lines = append(m.lines, classify(e, true))
	}
	return m
}

func (m *RegexMatcher) Matches(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		for _, l := range m.lines {
			switch l.kind {
			case kindCIDR:
				if l.cidr.Contains(ip) {
					return true
				}
			case kindExact:
				if l.exact == host {
					return true
				}
			}
		}
		return false
	}

	for _, l := range m.lines {
		switch l.kind {
		case kindRegex:
			if l.regex.MatchString(host) {
				return true
			}
		case kindExact:
			if l.exact == host {
				return true
			}
		}
	}
	return false
}

var lanCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
}

// LANMatcher is the fixed built-in private-address set (§4.12).
type LANMatcher struct {
	inner *CIDRMatcher
}

func NewLANMatcher() *LANMatcher {
	return &LANMatcher{inner: NewCIDRMatcher(lanCIDRs)}
}

func (m *LANMatcher) Matches(host string) bool { return m.inner.Matches(host) }

var (
	_ Matcher = (*CIDRMatcher)(nil)
	_ Matcher = (*RegexMatcher)(nil)
	_ Matcher = (*LANMatcher)(nil)
)
