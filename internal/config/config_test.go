package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[[router]]
name = "main"
default = "direct"

  [[router.route_rules]]
  name = "lan"
  select = "direct"
  exclude = []

[[listener]]
name = "in1"
endpoint = "127.0.0.1:1080"
proto = "socks5"
router = "main"

[[data]]
name = "lan"
format = "lan"

[[connector]]
name = "direct"
proto = "tcp"
`

func TestParseValidConfig(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, c.Listener, 1)
	require.Equal(t, "socks5", c.Listener[0].Proto)
	require.Len(t, c.Router, 1)
	require.Equal(t, "direct", c.Router[0].Default)
	require.Len(t, c.Router[0].RouteRules, 1)
	require.Equal(t, "lan", c.Router[0].RouteRules[0].Name)
}

func TestParseRejectsUnknownListenerProto(t *testing.T) {
	bad := sampleConfig + "\n[[listener]]\nname=\"bad\"\nendpoint=\"x\"\nproto=\"ftp\"\nrouter=\"main\"\n"
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestParseRejectsListenerWithUnknownRouter(t *testing.T) {
	bad := `
[[listener]]
name = "in1"
endpoint = "127.0.0.1:1080"
proto = "socks5"
router = "missing"
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestDataEntriesSplitsNewlineList(t *testing.T) {
	lines, err := DataEntries(Data{Name: "x", Format: "cidr", Data: "10.0.0.0/8\n\n192.168.0.0/16"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, lines)
}

func TestDataEntriesLANIgnoresData(t *testing.T) {
	lines, err := DataEntries(Data{Name: "lan", Format: "lan", Data: "should be ignored"}, nil)
	require.NoError(t, err)
	require.Nil(t, lines)
}

func TestDataEntriesYAMLBundle(t *testing.T) {
	lines, err := DataEntries(Data{Name: "remote", Format: "regex", URL: "https://example.com/rules.yaml"}, []byte("- 10.0.0.0/8\n- example\\.com\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", `example\.com`}, lines)
}
