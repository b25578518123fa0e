// Package wizard provides an interactive setup wizard for rog.
package wizard

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rikaaa0928/rog/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Result is the wizard's output: a complete config ready to be written to
// disk by the caller.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard walks an operator through building a listener/router/connector
// config interactively.
type Wizard struct {
	existingCfg *config.Config
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{}
}

// LoadExisting seeds the wizard's defaults from an existing config file,
// so re-running the wizard edits rather than starts from scratch.
func (w *Wizard) LoadExisting(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	w.existingCfg = cfg
	return nil
}

// Run executes the interactive setup wizard and returns the assembled
// config plus the path the caller should save it to.
func (w *Wizard) Run() (*Result, error) {
	fmt.Println(titleStyle.Render("rog setup wizard"))
	fmt.Println(infoStyle.Render("Configure ingress listeners, a routing rule set, and egress connectors."))
	fmt.Println()

	configPath, err := w.askConfigPath()
	if err != nil {
		return nil, err
	}

	connectors, err := w.askConnectors()
	if err != nil {
		return nil, err
	}

	dataSets, err := w.askDataSets()
	if err != nil {
		return nil, err
	}

	defaultConnector := connectors[0].Name
	router, err := w.askRouter(defaultConnector, dataSets, connectors)
	if err != nil {
		return nil, err
	}

	listeners, err := w.askListeners(router.Name)
	if err != nil {
		return nil, err
	}

	cfg := &config.Config{
		Listener:  listeners,
		Router:    []config.Router{router},
		Data:      dataSets,
		Connector: connectors,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wizard: assembled config is invalid: %w", err)
	}

	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

func (w *Wizard) askConfigPath() (string, error) {
	path := "/etc/rog/config.toml"
	field := huh.NewInput().
		Title("Where should the config file be written?").
		Value(&path)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Wizard) askConnectors() ([]config.Connector, error) {
	var names string
	field := huh.NewInput().
		Title("Egress connector names (comma separated)").
		Description("Each becomes a `[[connector]]` entry; the first is the router's default.").
		Value(&names).
		Placeholder("direct,exit-proxy,blackhole")
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return nil, err
	}

	var connectors []config.Connector
	for _, n := range splitCSV(names) {
		proto, endpoint, rateLimit, err := w.askConnectorDetails(n)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, config.Connector{Name: n, Proto: proto, Endpoint: endpoint, RateLimit: rateLimit})
	}
	if len(connectors) == 0 {
		connectors = append(connectors, config.Connector{Name: "direct", Proto: "tcp"})
	}
	return connectors, nil
}

func (w *Wizard) askConnectorDetails(name string) (proto, endpoint string, rateLimit int, err error) {
	proto = "tcp"
	protoField := huh.NewSelect[string]().
		Title(fmt.Sprintf("Connector %q proto", name)).
		Options(
			huh.NewOption("tcp (direct dial)", "tcp"),
			huh.NewOption("grpc (multiplexed tunnel to a remote egress)", "grpc"),
			huh.NewOption("grpc-v1 (single-stream-per-connection tunnel)", "grpc-v1"),
			huh.NewOption("block (always refuse)", "block"),
		).
		Value(&proto)
	if err := huh.NewForm(huh.NewGroup(protoField)).Run(); err != nil {
		return "", "", 0, err
	}

	if proto == "grpc" || proto == "grpc-v1" {
		endpointField := huh.NewInput().
			Title(fmt.Sprintf("Connector %q remote endpoint", name)).
			Placeholder("exit.example.com:9443").
			Value(&endpoint)
		if err := huh.NewForm(huh.NewGroup(endpointField)).Run(); err != nil {
			return "", "", 0, err
		}
		return proto, endpoint, 0, nil
	}

	if proto != "tcp" {
		return proto, "", 0, nil
	}

	var rateLimitStr string
	rateField := huh.NewInput().
		Title(fmt.Sprintf("Connector %q per-connection rate limit", name)).
		Description(fmt.Sprintf("Bytes/sec, e.g. %s. Leave blank for unlimited.", humanize.Bytes(uint64(1<<20)))).
		Value(&rateLimitStr)
	if err := huh.NewForm(huh.NewGroup(rateField)).Run(); err != nil {
		return "", "", 0, err
	}
	if strings.TrimSpace(rateLimitStr) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(rateLimitStr))
		if err != nil {
			return "", "", 0, fmt.Errorf("wizard: invalid rate limit %q: %w", rateLimitStr, err)
		}
		rateLimit = n
	}
	return proto, "", rateLimit, nil
}

func (w *Wizard) askDataSets() ([]config.Data, error) {
	includeLAN := true
	lanField := huh.NewConfirm().
		Title("Include a built-in LAN/private-range data set?").
		Value(&includeLAN)
	if err := huh.NewForm(huh.NewGroup(lanField)).Run(); err != nil {
		return nil, err
	}

	var data []config.Data
	if includeLAN {
		data = append(data, config.Data{Name: "lan", Format: "lan"})
	}

	var extra string
	extraField := huh.NewText().
		Title("Extra CIDR/domain data set (optional)").
		Description("Newline-separated CIDRs or hostnames. Leave blank to skip.").
		Value(&extra)
	if err := huh.NewForm(huh.NewGroup(extraField)).Run(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(extra) != "" {
		data = append(data, config.Data{Name: "custom", Format: "cidr", Data: extra})
	}
	return data, nil
}

func (w *Wizard) askRouter(defaultConnector string, dataSets []config.Data, connectors []config.Connector) (config.Router, error) {
	var name = "main"
	dflt := defaultConnector
	connectorNames := connectorOptions(connectors)

	nameField := huh.NewInput().Title("Router name").Value(&name)
	dfltField := huh.NewSelect[string]().Title("Default connector").Options(connectorNames...).Value(&dflt)
	if err := huh.NewForm(huh.NewGroup(nameField, dfltField)).Run(); err != nil {
		return config.Router{}, err
	}

	var rules []config.RouteRule
	for _, d := range dataSets {
		if d.Name == "lan" {
			rules = append(rules, config.RouteRule{Name: "lan", Select: "direct"})
			continue
		}
		sel := dflt
		selField := huh.NewSelect[string]().
			Title(fmt.Sprintf("Connector for data set %q", d.Name)).
			Options(connectorNames...).
			Value(&sel)
		if err := huh.NewForm(huh.NewGroup(selField)).Run(); err != nil {
			return config.Router{}, err
		}
		rules = append(rules, config.RouteRule{Name: d.Name, Select: sel})
	}

	return config.Router{Name: name, Default: dflt, RouteRules: rules}, nil
}

func (w *Wizard) askListeners(routerName string) ([]config.Listener, error) {
	var name = "in"
	var endpoint = "127.0.0.1:1080"
	proto := "socks5"

	nameField := huh.NewInput().Title("Listener name").Value(&name)
	endpointField := huh.NewInput().Title("Listen address").Value(&endpoint)
	protoField := huh.NewSelect[string]().
		Title("Ingress protocol").
		Options(
			huh.NewOption("socks5", "socks5"),
			huh.NewOption("http (CONNECT)", "http"),
			huh.NewOption("htss5 (SOCKS5 over TLS)", "htss5"),
			huh.NewOption("grpc (multiplexed tunnel)", "grpc"),
			huh.NewOption("auto (sniff socks5/http)", "auto"),
		).
		Value(&proto)

	if err := huh.NewForm(huh.NewGroup(nameField, endpointField, protoField)).Run(); err != nil {
		return nil, err
	}

	return []config.Listener{{Name: name, Endpoint: endpoint, Proto: proto, Router: routerName}}, nil
}

func connectorOptions(connectors []config.Connector) []huh.Option[string] {
	opts := make([]huh.Option[string], len(connectors))
	for i, c := range connectors {
		opts[i] = huh.NewOption(c.Name, c.Name)
	}
	return opts
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// PrintSummary prints a human-readable confirmation of the assembled
// config before it is written to disk.
func PrintSummary(r *Result) {
	fmt.Println()
	fmt.Println(titleStyle.Render("Summary"))
	fmt.Printf("config path: %s\n", r.ConfigPath)
	for _, l := range r.Config.Listener {
		fmt.Printf("  listener %q: %s (%s) -> router %q\n", l.Name, l.Endpoint, l.Proto, l.Router)
	}
	for _, c := range r.Config.Connector {
		if c.RateLimit > 0 {
			fmt.Printf("  connector %q: %s %s (capped at %s/s)\n", c.Name, c.Proto, c.Endpoint, humanize.Bytes(uint64(c.RateLimit)))
			continue
		}
		fmt.Printf("  connector %q: %s %s\n", c.Name, c.Proto, c.Endpoint)
	}
	fmt.Fprintln(os.Stdout)
}
