package wizard

import (
	"testing"

	"github.com/rikaaa0928/rog/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSplitCSV(t *testing.T) {
	require.Equal(t, []string{"direct", "exit-proxy"}, splitCSV("direct, exit-proxy ,"))
	require.Nil(t, splitCSV(""))
	require.Nil(t, splitCSV("   "))
}

func TestConnectorOptions(t *testing.T) {
	connectors := []config.Connector{{Name: "direct"}, {Name: "blackhole"}}
	opts := connectorOptions(connectors)
	require.Len(t, opts, 2)
	require.Equal(t, "direct", opts[0].Value)
	require.Equal(t, "blackhole", opts[1].Value)
}

func TestResultAssemblesValidConfig(t *testing.T) {
	cfg := &config.Config{
		Listener:  []config.Listener{{Name: "in", Endpoint: "127.0.0.1:1080", Proto: "socks5", Router: "main"}},
		Router:    []config.Router{{Name: "main", Default: "direct", RouteRules: []config.RouteRule{{Name: "lan", Select: "direct"}}}},
		Data:      []config.Data{{Name: "lan", Format: "lan"}},
		Connector: []config.Connector{{Name: "direct", Proto: "tcp"}},
	}
	require.NoError(t, cfg.Validate())

	r := &Result{Config: cfg, ConfigPath: "/etc/rog/config.toml"}
	require.Equal(t, "/etc/rog/config.toml", r.ConfigPath)
	PrintSummary(r)
}
