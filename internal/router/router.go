// Package router implements rule-based connector selection (§4.13): for a
// destination address, walk the configured rules in order and return the
// first matching rule's connector name, falling back to the router's
// default.
package router

import (
	"context"
	"log/slog"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/dnscache"
	"github.com/rikaaa0928/rog/internal/match"
)

// Rule is one configured route_rules entry.
type Rule struct {
	Name       string
	Select     string
	Exclude    []string
	DomainToIP bool
	DNS        string
}

// Router selects a connector name for a destination address.
type Router struct {
	Name     string
	Default  string
	Rules    []Rule
	Matchers map[string]match.Matcher
	DNS      *dnscache.Cache
	Logger   *slog.Logger
}

// New builds a Router; logger may be nil.
func New(name, defaultConnector string, rules []Rule, matchers map[string]match.Matcher, dns *dnscache.Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{Name: name, Default: defaultConnector, Rules: rules, Matchers: matchers, DNS: dns, Logger: logger}
}

// Route returns the connector name to use for dst, evaluating rules in
// configured order (§4.13). listenerName is carried only for log context.
func (r *Router) Route(ctx context.Context, listenerName string, dst *addr.RunAddr) string {
	for i, rule := range r.Rules {
		m, ok := r.Matchers[rule.Name]
		if !ok {
			r.Logger.Debug("router: unknown matcher referenced by rule, skipping", "router", r.Name, "rule_index", i, "matcher", rule.Name)
			continue
		}

		candidates := r.candidateHosts(ctx, dst.Host, rule)

		for _, host := range candidates {
			if match.MatchExclude(host, rule.Exclude) {
				continue
			}
			if m.Matches(host) {
				r.Logger.Debug("router: rule matched", "listener", listenerName, "router", r.Name, "rule_index", i, "host", host, "select", rule.Select)
				return rule.Select
			}
		}
	}

	r.Logger.Debug("router: no rule matched, using default", "listener", listenerName, "router", r.Name, "default", r.Default)
	return r.Default
}

func (r *Router) candidateHosts(ctx context.Context, host string, rule Rule) []string {
	hosts := []string{host}
	if !rule.DomainToIP || r.DNS == nil {
		return hosts
	}

	ips, err := r.DNS.ResolveDistinct(ctx, host, rule.DNS)
	if err != nil {
		r.Logger.Debug("router: domain_to_ip resolution failed", "host", host, "error", err)
		return hosts
	}

	seen := map[string]struct{}{host: {}}
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		hosts = append(hosts, ip)
	}
	return hosts
}
