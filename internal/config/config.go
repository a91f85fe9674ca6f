// Package config parses daemon-level configuration from command-line flags
// and environment variables, and builds the protocol-level querier.Config
// from the same flag set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
	"github.com/joshuafuller/querierd/internal/wire"
	"github.com/joshuafuller/querierd/querier"
	flag "github.com/spf13/pflag"
)

// Config holds every daemon-level knob plus the embedded protocol Config:
// an explicit interface allow-list (empty means every multicast-capable
// interface is a candidate, since querierd runs on routers rather than
// hosts with VPN/Docker interfaces to exclude), the metrics/observer
// listen addresses, the log level, and the pidfile path.
type Config struct {
	Interfaces   []string
	MetricsAddr  string
	ObserverAddr string
	LogLevel     string
	PIDFile      string

	// VersionMode is the raw --version-mode/QUERIERD_VERSION_MODE flag
	// value ("v1", "v2" or "v3"); Finalize resolves it into
	// Querier.VersionMode.
	VersionMode string

	Querier querier.Config
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Register binds querierd's flags onto fs and returns a Config whose fields
// are populated once fs.Parse has run (by the caller; cobra's Execute does
// this for a command's own FlagSet). Each flag falls back to a QUERIERD_*
// environment variable, then to its built-in default. The returned
// ifacesCSV pointer must be passed to Finalize once parsing has happened,
// since pflag has no post-parse hook of its own.
func Register(fs *flag.FlagSet) (*Config, *string) {
	def := querier.DefaultConfig()
	cfg := &Config{}
	ifacesCSV := new(string)

	fs.StringVar(ifacesCSV, "interfaces", getenv("QUERIERD_INTERFACES", ""),
		"comma-separated interface allow-list (env: QUERIERD_INTERFACES; empty means all multicast-capable interfaces)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("QUERIERD_METRICS_ADDR", ":9113"),
		"address to listen on for prometheus metrics (env: QUERIERD_METRICS_ADDR)")
	fs.StringVar(&cfg.ObserverAddr, "observer-addr", getenv("QUERIERD_OBSERVER_ADDR", ":8080"),
		"address to listen on for the read-only observer API (env: QUERIERD_OBSERVER_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", getenv("QUERIERD_LOG_LEVEL", "info"),
		"log level: debug, info, warn, error (env: QUERIERD_LOG_LEVEL)")
	fs.StringVar(&cfg.PIDFile, "pidfile", getenv("QUERIERD_PIDFILE", ""),
		"write the daemon pid to this path (env: QUERIERD_PIDFILE; empty disables)")

	fs.DurationVar(&cfg.Querier.QueryInterval, "query-interval",
		getenvDuration("QUERIERD_QUERY_INTERVAL", def.QueryInterval),
		"general query interval (env: QUERIERD_QUERY_INTERVAL)")
	fs.DurationVar(&cfg.Querier.ResponseInterval, "response-interval",
		getenvDuration("QUERIERD_RESPONSE_INTERVAL", def.ResponseInterval),
		"max response time advertised in general queries (env: QUERIERD_RESPONSE_INTERVAL)")
	fs.DurationVar(&cfg.Querier.LastMemberInterval, "last-member-interval",
		getenvDuration("QUERIERD_LAST_MEMBER_INTERVAL", def.LastMemberInterval),
		"max response time advertised in group-specific queries (env: QUERIERD_LAST_MEMBER_INTERVAL)")
	fs.IntVar(&cfg.Querier.LastMemberQueryCount, "last-member-query-count",
		getenvInt("QUERIERD_LAST_MEMBER_QUERY_COUNT", def.LastMemberQueryCount),
		"number of group-specific queries sent on a leave (env: QUERIERD_LAST_MEMBER_QUERY_COUNT)")
	fs.IntVar(&cfg.Querier.Robustness, "robustness",
		getenvInt("QUERIERD_ROBUSTNESS", def.Robustness),
		"robustness variable (env: QUERIERD_ROBUSTNESS)")
	fs.BoolVar(&cfg.Querier.RouterAlert, "router-alert",
		getenvBool("QUERIERD_ROUTER_ALERT", def.RouterAlert),
		"set the IP Router Alert option on transmitted packets (env: QUERIERD_ROUTER_ALERT)")
	fs.DurationVar(&cfg.Querier.RouterTimeout, "router-timeout",
		getenvDuration("QUERIERD_ROUTER_TIMEOUT", 0),
		"other-querier-present interval; 0 derives it from query-interval/response-interval (env: QUERIERD_ROUTER_TIMEOUT)")
	fs.StringVar(&cfg.VersionMode, "version-mode", getenv("QUERIERD_VERSION_MODE", def.VersionMode.String()),
		"administrative compatibility ceiling for newly discovered interfaces: v1, v2 or v3 (env: QUERIERD_VERSION_MODE)")

	return cfg, ifacesCSV
}

// parseVersionMode resolves the --version-mode flag string into a
// wire.Version, accepting the bare digit or the "vN" form case-insensitively.
func parseVersionMode(s string) (wire.Version, error) {
	switch strings.ToLower(s) {
	case "1", "v1":
		return wire.V1, nil
	case "2", "v2":
		return wire.V2, nil
	case "3", "v3":
		return wire.V3, nil
	default:
		return 0, &qerrors.ConfigError{Field: "version_mode", Value: s, Message: "must be one of v1, v2, v3"}
	}
}

// Finalize splits the raw interfaces CSV captured by Register and validates
// the resulting Config: a non-positive query_interval or robustness is
// fatal; an unresolvable interface name is left for the caller to
// warn-and-skip at startup rather than rejected here.
func (cfg *Config) Finalize(ifacesCSV string) error {
	cfg.Interfaces = splitCSV(ifacesCSV)

	vm, err := parseVersionMode(cfg.VersionMode)
	if err != nil {
		return err
	}
	cfg.Querier.VersionMode = vm

	if err := cfg.Querier.Validate(); err != nil {
		return err
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &qerrors.ConfigError{Field: "log_level", Value: cfg.LogLevel, Message: "must be one of debug, info, warn, error"}
	}
	return nil
}

// Parse is a convenience wrapper around Register/Finalize for callers that
// own a plain FlagSet rather than a cobra command (primarily tests).
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, ifacesCSV := Register(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	if err := cfg.Finalize(*ifacesCSV); err != nil {
		return Config{}, err
	}
	return *cfg, nil
}
