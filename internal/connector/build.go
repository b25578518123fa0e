package connector

import "log/slog"

// Spec is the parsed shape of one `[[connector]]` config entry (§6).
type Spec struct {
	Name      string
	Proto     string // "tcp", "grpc", "grpc-v1", or "block"
	Endpoint  string
	User      string
	Password  string
	RateLimit int // tcp-only: bytes/sec per connection, 0 = unlimited
}

// BuildCache constructs a connector Cache whose factories are derived from
// specs, one lazy factory per connector name.
func BuildCache(specs []Spec, logger *slog.Logger) *Cache {
	factories := make(map[string]func() (Connector, error), len(specs))
	for _, s := range specs {
		s := s
		factories[s.Name] = func() (Connector, error) { return build(s, logger) }
	}
	return NewCache(factories)
}

func build(s Spec, logger *slog.Logger) (Connector, error) {
	switch s.Proto {
	case "tcp":
		if s.RateLimit > 0 {
			return NewTCPConnectorWithRateLimit(s.Name, s.RateLimit), nil
		}
		return NewTCPConnector(s.Name), nil
	case "grpc":
		return NewGRPCConnector(s.Name, s.Endpoint, s.Password, logger), nil
	case "grpc-v1":
		return NewGRPCV1Connector(s.Name, s.Endpoint, s.Password, logger), nil
	case "block":
		return NewBlockConnector(s.Name), nil
	default:
		return nil, ErrUnknownProto
	}
}
