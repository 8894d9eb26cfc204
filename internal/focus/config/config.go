// Package config loads the conductor runtime configuration.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StrategyKind names a bridge selection strategy.
type StrategyKind string

const (
	StrategyRegion      StrategyKind = "region"
	StrategyIntraRegion StrategyKind = "intra-region"
	StrategySingle      StrategyKind = "single"
	StrategySplit       StrategyKind = "split"
	StrategyVisitor     StrategyKind = "visitor"
)

// StrategyConfig is the sum-typed strategy selection node. For the visitor
// composite, Participant and Visitor name the two inner strategies.
type StrategyConfig struct {
	Kind        StrategyKind
	Participant StrategyKind
	Visitor     StrategyKind
}

// String renders the config back to its flag form.
func (s StrategyConfig) String() string {
	if s.Kind == StrategyVisitor {
		return fmt.Sprintf("visitor:%s,%s", s.Participant, s.Visitor)
	}
	return string(s.Kind)
}

// Config holds the conductor configuration
type Config struct {
	LogLevel    string
	MetricsAddr string

	// Bridge pool settings.
	// BridgeAddrs maps bridge JID to control-channel address
	// (e.g. "jvb1@bridges" -> "localhost:9090")
	BridgeAddrs map[string]string

	// Selection settings
	Strategy                        StrategyConfig
	PinnedBridgeVersion             string
	MaxBridgeStress                 float64
	StrategyMaxStress               float64
	AllowSelectionIfNoPinnedMatch   bool
	ParticipantRegionPinned         bool
	AllowSelectionIfNoRegionalMatch bool
	MultiBridgeEnabled              bool

	// Restart rate limiting
	RestartMinInterval time.Duration
	RestartInterval    time.Duration
	RestartMaxRequests int

	// Control channel settings
	GRPCConnectTimeout    time.Duration
	GRPCKeepaliveInterval time.Duration
	GRPCKeepaliveTimeout  time.Duration
	RequestTimeout        time.Duration

	// Health checking
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
}

// envPrefix is the prefix for all conductor environment variables.
const envPrefix = "CONDUCTOR_"

// Load loads configuration from command line flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{
		GRPCConnectTimeout:    10 * time.Second,
		GRPCKeepaliveInterval: 30 * time.Second,
		GRPCKeepaliveTimeout:  10 * time.Second,
	}

	var strategy, bridges string

	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9091", "Prometheus metrics listen address")
	flag.StringVar(&bridges, "bridges", "", "Static bridge list as jid=addr pairs (comma-separated)")
	flag.StringVar(&strategy, "strategy", "region", "Bridge selection strategy (region, intra-region, single, split, visitor:<participant>,<visitor>)")
	flag.StringVar(&cfg.PinnedBridgeVersion, "pinned-bridge-version", "", "Require conference bridges to run exactly this version (empty accepts any)")
	flag.Float64Var(&cfg.MaxBridgeStress, "max-bridge-stress", 0.85, "Stress level above which a bridge is considered overloaded")
	flag.Float64Var(&cfg.StrategyMaxStress, "strategy-max-stress", 0.8, "Stress threshold used by strategy not-loaded checks")
	flag.BoolVar(&cfg.AllowSelectionIfNoPinnedMatch, "allow-no-pinned-match", false, "Fall back to any version when no bridge matches a pinned version")
	flag.BoolVar(&cfg.ParticipantRegionPinned, "participant-region-pinned", false, "Treat the participant region hint as a hard requirement")
	flag.BoolVar(&cfg.AllowSelectionIfNoRegionalMatch, "allow-no-regional-match", true, "Fall back to any region when no bridge matches the preferred region")
	flag.BoolVar(&cfg.MultiBridgeEnabled, "multi-bridge", true, "Allow conferences to span multiple bridges (Octo)")
	flag.DurationVar(&cfg.RestartMinInterval, "restart-min-interval", 10*time.Second, "Minimum interval between accepted restart requests")
	flag.DurationVar(&cfg.RestartInterval, "restart-interval", 60*time.Second, "Trailing window for restart request counting")
	flag.IntVar(&cfg.RestartMaxRequests, "restart-max-requests", 3, "Maximum restart requests accepted within the trailing window")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", 15*time.Second, "Deadline for conference-modify requests")
	flag.DurationVar(&cfg.HealthCheckInterval, "health-interval", 10*time.Second, "Interval between bridge health checks")
	flag.DurationVar(&cfg.HealthCheckTimeout, "health-timeout", 5*time.Second, "Deadline for a single bridge health check")
	flag.Parse()

	// Override with environment variables if set
	if v := os.Getenv(envPrefix + "LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "METRICS"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(envPrefix + "BRIDGES"); v != "" {
		bridges = v
	}
	if v := os.Getenv(envPrefix + "STRATEGY"); v != "" {
		strategy = v
	}
	if v := os.Getenv(envPrefix + "PINNED_BRIDGE_VERSION"); v != "" {
		cfg.PinnedBridgeVersion = v
	}
	if v := os.Getenv(envPrefix + "MAX_BRIDGE_STRESS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxBridgeStress = f
		}
	}
	if v := os.Getenv(envPrefix + "MULTI_BRIDGE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MultiBridgeEnabled = b
		}
	}

	cfg.BridgeAddrs = parseBridgeAddresses(bridges)

	sc, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	cfg.Strategy = sc

	return cfg, nil
}

// ParseStrategy parses a strategy flag value into its sum-typed form.
// Accepted values: "region", "intra-region", "single", "split" and the
// composite "visitor:<participant>,<visitor>".
func ParseStrategy(s string) (StrategyConfig, error) {
	s = strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(s, string(StrategyVisitor)+":"); ok {
		parts := strings.SplitN(rest, ",", 2)
		if len(parts) != 2 {
			return StrategyConfig{}, fmt.Errorf("visitor strategy needs two inner strategies, got %q", s)
		}
		participant, err := parseSimpleStrategy(parts[0])
		if err != nil {
			return StrategyConfig{}, err
		}
		visitor, err := parseSimpleStrategy(parts[1])
		if err != nil {
			return StrategyConfig{}, err
		}
		return StrategyConfig{Kind: StrategyVisitor, Participant: participant, Visitor: visitor}, nil
	}

	kind, err := parseSimpleStrategy(s)
	if err != nil {
		return StrategyConfig{}, err
	}
	return StrategyConfig{Kind: kind}, nil
}

func parseSimpleStrategy(s string) (StrategyKind, error) {
	switch StrategyKind(strings.TrimSpace(s)) {
	case StrategyRegion:
		return StrategyRegion, nil
	case StrategyIntraRegion:
		return StrategyIntraRegion, nil
	case StrategySingle:
		return StrategySingle, nil
	case StrategySplit:
		return StrategySplit, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// parseBridgeAddresses parses a comma-separated list of jid=address pairs.
// Example: "jvb1@bridges=localhost:9090,jvb2@bridges=localhost:9091"
func parseBridgeAddresses(s string) map[string]string {
	if s == "" {
		return nil
	}
	result := make(map[string]string)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		jid := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if jid != "" && addr != "" {
			result[jid] = addr
		}
	}
	return result
}
