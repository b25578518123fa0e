// Package config parses and validates the TOML configuration described in
// spec.md §6: `listener[]`, `router[]`, `data[]`, `connector[]`.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the top-level parsed config file.
type Config struct {
	Listener  []Listener  `toml:"listener"`
	Router    []Router    `toml:"router"`
	Data      []Data      `toml:"data"`
	Connector []Connector `toml:"connector"`
}

// Listener is one `[[listener]]` entry. Password holds the cleartext value
// read from TOML only until Parse hashes it in place; everything downstream
// of config.Load sees a bcrypt hash, never the cleartext.
type Listener struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`
	Proto    string `toml:"proto"`
	Router   string `toml:"router"`
	User     string `toml:"user"`
	Password string `toml:"pw"`
}

// Router is one `[[router]]` entry.
type Router struct {
	Name       string      `toml:"name"`
	Default    string      `toml:"default"`
	RouteRules []RouteRule `toml:"route_rules"`
}

// RouteRule is one entry in a router's `route_rules` list.
type RouteRule struct {
	Name       string   `toml:"name"`
	Select     string   `toml:"select"`
	Exclude    []string `toml:"exclude"`
	DomainToIP bool     `toml:"domain_to_ip"`
	DNS        string   `toml:"dns"`
}

// Data is one `[[data]]` entry: a named matcher data set.
type Data struct {
	Name   string `toml:"name"`
	Format string `toml:"format"` // "cidr", "regex", "lan"
	URL    string `toml:"url"`
	Data   string `toml:"data"`
}

// Connector is one `[[connector]]` entry.
type Connector struct {
	Name      string `toml:"name"`
	Proto     string `toml:"proto"` // "tcp", "grpc", "grpc-v1", "block"
	Endpoint  string `toml:"endpoint"`
	User      string `toml:"user"`
	Password  string `toml:"pw"`
	RateLimit int    `toml:"rate_limit"` // tcp-only: bytes/sec per connection
}

// Load reads and parses the TOML config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw TOML bytes into a Config and validates it.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if _, err := toml.Decode(string(raw), &c); err != nil {
		return nil, fmt.Errorf("config: decoding toml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.hashListenerPasswords(); err != nil {
		return nil, err
	}
	return &c, nil
}

// hashListenerPasswords replaces each listener's cleartext shared
// password with its bcrypt hash, so the cleartext value read from the TOML
// file does not linger in memory beyond config load. Connector passwords
// are left untouched: a connector sends its password as a credential to a
// remote listener and needs the cleartext to do so.
func (c *Config) hashListenerPasswords() error {
	for i, l := range c.Listener {
		if l.Password == "" {
			continue
		}
		hashed, err := HashPassword(l.Password)
		if err != nil {
			return fmt.Errorf("config: hashing listener %q password: %w", l.Name, err)
		}
		c.Listener[i].Password = hashed
	}
	return nil
}

// HashPassword bcrypt-hashes a cleartext shared password at the default
// cost, for comparison later via bcrypt.CompareHashAndPassword.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Validate checks cross-references between listeners/routers/connectors
// that TOML decoding alone cannot enforce.
func (c *Config) Validate() error {
	routers := make(map[string]struct{}, len(c.Router))
	for _, r := range c.Router {
		if r.Name == "" {
			return fmt.Errorf("config: router entry missing name")
		}
		routers[r.Name] = struct{}{}
	}

	for _, l := range c.Listener {
		if l.Name == "" || l.Endpoint == "" {
			return fmt.Errorf("config: listener entry requires name and endpoint")
		}
		switch l.Proto {
		case "socks5", "http", "htss5", "grpc", "auto":
		default:
			return fmt.Errorf("config: listener %q has unknown proto %q", l.Name, l.Proto)
		}
		if _, ok := routers[l.Router]; !ok {
			return fmt.Errorf("config: listener %q references unknown router %q", l.Name, l.Router)
		}
	}

	for _, d := range c.Data {
		switch d.Format {
		case "cidr", "regex", "lan":
		default:
			return fmt.Errorf("config: data %q has unknown format %q", d.Name, d.Format)
		}
	}

	for _, conn := range c.Connector {
		switch conn.Proto {
		case "tcp", "grpc", "grpc-v1", "block":
		default:
			return fmt.Errorf("config: connector %q has unknown proto %q", conn.Name, conn.Proto)
		}
	}

	return nil
}

// DataEntries splits a Data set's configured `data` field (or, if URL
// points at a ".yaml"/".yml" remote bundle, its YAML list form) into
// individual matcher lines. The default encoding is a newline-joined list;
// `lan` ignores both `url` and `data` and always loads the built-in set.
func DataEntries(d Data, fetched []byte) ([]string, error) {
	if d.Format == "lan" {
		return nil, nil
	}

	body := d.Data
	if d.URL != "" {
		body = string(fetched)
		if strings.HasSuffix(d.URL, ".yaml") || strings.HasSuffix(d.URL, ".yml") {
			var lines []string
			if err := yaml.Unmarshal(fetched, &lines); err != nil {
				return nil, fmt.Errorf("config: data %q: decoding yaml bundle: %w", d.Name, err)
			}
			return lines, nil
		}
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
