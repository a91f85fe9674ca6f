package querier

import (
	"time"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
	"github.com/joshuafuller/querierd/internal/wire"
)

// Config holds the protocol tunables that govern query timing, membership
// timeouts and election behavior. The daemon-level knobs (interface
// allow-list, listen addresses, log level) live in internal/config, which
// builds one of these from flags/environment.
type Config struct {
	QueryInterval        time.Duration
	ResponseInterval     time.Duration
	LastMemberInterval   time.Duration
	LastMemberQueryCount int
	Robustness           int
	RouterAlert          bool

	// RouterTimeout is the other-querier-present interval. Zero means
	// "derive from QueryInterval/ResponseInterval".
	RouterTimeout time.Duration

	// VersionMode is the administrative compatibility ceiling (spec.md §3's
	// IGMPv1-mode/IGMPv2-mode flags) every newly created Iface starts at:
	// wire.V3 runs full IGMPv3, wire.V2 truncates outbound general queries
	// to the 8-byte v1/v2 form, wire.V1 additionally forces max_resp_code
	// to zero and disables leave processing. A segment with v1/v2-only
	// hosts is configured this way rather than detected automatically —
	// per-group compatibility (Group.PV) still downgrades independently
	// from received reports regardless of this setting.
	VersionMode wire.Version
}

// DefaultConfig returns the querier's default tunables.
func DefaultConfig() Config {
	return Config{
		QueryInterval:        125 * time.Second,
		ResponseInterval:     10 * time.Second,
		LastMemberInterval:   time.Second,
		LastMemberQueryCount: 2,
		Robustness:           2,
		RouterAlert:          true,
		VersionMode:          wire.V3,
	}
}

// OQPI returns the Other Querier Present Interval: the explicit
// RouterTimeout if set, else the default of 2*query_interval +
// response_interval/2.
func (c Config) OQPI() time.Duration {
	if c.RouterTimeout > 0 {
		return c.RouterTimeout
	}
	return 2*c.QueryInterval + c.ResponseInterval/2
}

// GMI returns the Group Membership Interval: robustness*query_interval +
// response_interval.
func (c Config) GMI() time.Duration {
	return time.Duration(c.Robustness)*c.QueryInterval + c.ResponseInterval
}

// Validate rejects configurations that can never run a sane querier. A
// non-positive query_interval or robustness can never produce a working
// querier (every other interval is derived from them), so those two are
// fatal; the rest are left to the caller's discretion.
func (c Config) Validate() error {
	if c.QueryInterval <= 0 {
		return &qerrors.FatalInit{
			Operation: "validate config",
			Err:       &qerrors.ConfigError{Field: "query_interval", Value: c.QueryInterval, Message: "must be positive"},
		}
	}
	if c.Robustness <= 0 {
		return &qerrors.FatalInit{
			Operation: "validate config",
			Err:       &qerrors.ConfigError{Field: "robustness", Value: c.Robustness, Message: "must be positive"},
		}
	}
	if c.ResponseInterval <= 0 {
		return &qerrors.ConfigError{Field: "response_interval", Value: c.ResponseInterval, Message: "must be positive"}
	}
	if c.LastMemberInterval <= 0 {
		return &qerrors.ConfigError{Field: "last_member_interval", Value: c.LastMemberInterval, Message: "must be positive"}
	}
	if c.LastMemberQueryCount <= 0 {
		return &qerrors.ConfigError{Field: "last_member_query_count", Value: c.LastMemberQueryCount, Message: "must be positive"}
	}
	switch c.VersionMode {
	case wire.V1, wire.V2, wire.V3:
	default:
		return &qerrors.ConfigError{Field: "version_mode", Value: c.VersionMode, Message: "must be V1, V2 or V3"}
	}
	return nil
}
