// Package main provides the CLI entry point for rog, a multi-protocol
// routing proxy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/common/version"
	"github.com/rikaaa0928/rog/internal/certutil"
	"github.com/rikaaa0928/rog/internal/config"
	"github.com/rikaaa0928/rog/internal/connector"
	"github.com/rikaaa0928/rog/internal/dnscache"
	"github.com/rikaaa0928/rog/internal/logging"
	"github.com/rikaaa0928/rog/internal/match"
	"github.com/rikaaa0928/rog/internal/metrics"
	"github.com/rikaaa0928/rog/internal/object"
	"github.com/rikaaa0928/rog/internal/router"
	"github.com/rikaaa0928/rog/internal/wizard"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	version.Version = Version

	rootCmd := &cobra.Command{
		Use:     "rog",
		Short:   "rog - a multi-protocol routing proxy",
		Version: Version,
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(validateConfigCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(gencertCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPathFlagOrEnv(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("ROG_CONFIG"); v != "" {
		return v
	}
	return "/etc/rog/config.toml"
}

func logLevelFlagOrEnv(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("ROG_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

func startCmd() *cobra.Command {
	var configPath, logLevel, metricsAddr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logLevelFlagOrEnv(logLevel), "text")

			cfg, err := config.Load(configPathFlagOrEnv(configPath))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if metricsAddr != "" {
				go serveMetrics(metricsAddr, logger)
			}

			return run(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the TOML config file (defaults to $ROG_CONFIG or /etc/rog/config.toml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (defaults to $ROG_LOG_LEVEL or info)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	return cmd
}

func validateConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Parse and validate the config file without starting the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(configPathFlagOrEnv(configPath))
			if err != nil {
				return err
			}
			fmt.Println("config is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the TOML config file (defaults to $ROG_CONFIG or /etc/rog/config.toml)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

func wizardCmd() *cobra.Command {
	var editExisting string
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Interactively build a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("rog: wizard requires an interactive terminal")
			}

			w := wizard.New()
			if editExisting != "" {
				if err := w.LoadExisting(editExisting); err != nil {
					return err
				}
			}

			result, err := w.Run()
			if err != nil {
				return err
			}

			wizard.PrintSummary(result)

			f, err := os.Create(result.ConfigPath)
			if err != nil {
				return fmt.Errorf("rog: writing config: %w", err)
			}
			defer f.Close()

			enc := toml.NewEncoder(f)
			return enc.Encode(result.Config)
		},
	}
	cmd.Flags().StringVar(&editExisting, "edit", "", "load an existing config file as defaults")
	return cmd
}

func gencertCmd() *cobra.Command {
	var commonName, certPath, keyPath string
	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a self-signed TLS certificate for a QUIC/WS/H2 tunnel carrier listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := certutil.GenerateCert(certutil.DefaultServerOptions(commonName))
			if err != nil {
				return fmt.Errorf("rog: generating certificate: %w", err)
			}
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("rog: saving certificate: %w", err)
			}
			fmt.Printf("wrote %s and %s (fingerprint %s)\n", certPath, keyPath, cert.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&commonName, "common-name", "rog-tunnel", "certificate CommonName / SAN")
	cmd.Flags().StringVar(&certPath, "cert", "rog.crt", "output certificate path")
	cmd.Flags().StringVar(&keyPath, "key", "rog.key", "output private key path")
	return cmd
}

func serveMetrics(addr string, logger *slog.Logger) {
	// Building the default Metrics registers the rog_build_info collector
	// on the registry Handler serves.
	metrics.Default()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// run builds the router/matcher/connector/object graph from cfg and runs
// every configured listener's accept loop until ctx is canceled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dnsCache := dnscache.New(logger)
	defer dnsCache.Close()

	matchers, err := buildMatchers(cfg.Data)
	if err != nil {
		return err
	}

	routers := make(map[string]*router.Router, len(cfg.Router))
	for _, rc := range cfg.Router {
		rules := make([]router.Rule, len(rc.RouteRules))
		for i, rr := range rc.RouteRules {
			rules[i] = router.Rule{Name: rr.Name, Select: rr.Select, Exclude: rr.Exclude, DomainToIP: rr.DomainToIP, DNS: rr.DNS}
		}
		routers[rc.Name] = router.New(rc.Name, rc.Default, rules, matchers, dnsCache, logger)
	}

	specs := make([]connector.Spec, len(cfg.Connector))
	for i, cc := range cfg.Connector {
		specs[i] = connector.Spec{Name: cc.Name, Proto: cc.Proto, Endpoint: cc.Endpoint, User: cc.User, Password: cc.Password, RateLimit: cc.RateLimit}
	}
	connCache := connector.BuildCache(specs, logger)

	objs := make([]*object.Object, 0, len(cfg.Listener))
	for _, lc := range cfg.Listener {
		rt, ok := routers[lc.Router]
		if !ok {
			return fmt.Errorf("rog: listener %q references unknown router %q", lc.Name, lc.Router)
		}
		objCfg := object.Config{
			Name:     lc.Name,
			Endpoint: lc.Endpoint,
			Proto:    object.Proto(lc.Proto),
			Router:   lc.Router,
			User:     lc.User,
			Password: lc.Password,
		}
		objs = append(objs, object.New(objCfg, rt, connCache, logger))
	}

	errCh := make(chan error, len(objs))
	for _, o := range objs {
		o := o
		go func() { errCh <- o.Run(ctx) }()
	}

	for range objs {
		if err := <-errCh; err != nil {
			logger.Error("listener stopped", "error", err)
		}
	}
	return nil
}

func buildMatchers(data []config.Data) (map[string]match.Matcher, error) {
	matchers := make(map[string]match.Matcher, len(data))
	for _, d := range data {
		var fetched []byte
		if d.URL != "" {
			resp, err := http.Get(d.URL)
			if err != nil {
				return nil, fmt.Errorf("rog: fetching data set %q: %w", d.Name, err)
			}
			body, err := readAllAndClose(resp)
			if err != nil {
				return nil, fmt.Errorf("rog: reading data set %q: %w", d.Name, err)
			}
			fetched = body
		}

		entries, err := config.DataEntries(d, fetched)
		if err != nil {
			return nil, err
		}

		switch d.Format {
		case "lan":
			matchers[d.Name] = match.NewLANMatcher()
		case "regex":
			matchers[d.Name] = match.NewRegexMatcher(entries)
		default:
			matchers[d.Name] = match.NewCIDRMatcher(entries)
		}
	}
	return matchers, nil
}

func readAllAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if err.Error() == "EOF" {
				return buf, nil
			}
			return buf, err
		}
	}
}
