package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCIDRMatcherMatchesNetworkAndExact(t *testing.T) {
	m := NewCIDRMatcher([]string{"192.168.1.0/24", "printer.local"})
	require.True(t, m.Matches("192.168.1.42"))
	require.False(t, m.Matches("192.168.2.1"))
	require.True(t, m.Matches("printer.local"))
	require.False(t, m.Matches("other.local"))
}

func TestRegexMatcherAppliesByHostKind(t *testing.T) {
	m := NewRegexMatcher([]string{"10.0.0.0/8", `.*\.example\.com$`, "exact.test"})

	require.True(t, m.Matches("10.1.2.3"), "ip host should check cidr lines")
	require.False(t, m.Matches("203.0.113.1"))

	require.True(t, m.Matches("foo.example.com"), "non-ip host should check regex lines")
	require.True(t, m.Matches("exact.test"))
	require.False(t, m.Matches("example.org"))
}

func TestLANMatcherCoversPrivateRanges(t *testing.T) {
	m := NewLANMatcher()
	require.True(t, m.Matches("10.1.2.3"))
	require.True(t, m.Matches("172.16.0.1"))
	require.True(t, m.Matches("192.168.0.1"))
	require.True(t, m.Matches("127.0.0.1"))
	require.False(t, m.Matches("8.8.8.8"))
}

func TestMatchExclude(t *testing.T) {
	require.True(t, MatchExclude("10.0.0.5", []string{"10.0.0.0/8"}))
	require.True(t, MatchExclude("1.2.3.4", []string{"1.2.3.4"}))
	require.True(t, MatchExclude("foo.internal", []string{`.*\.internal$`}))
	require.False(t, MatchExclude("foo.external", []string{`.*\.internal$`}))
	require.False(t, MatchExclude("host", nil))
}
