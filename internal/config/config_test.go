package config

import (
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/querierd/internal/wire"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("querierd", flag.ContinueOnError)
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(newFlagSet(), nil)
	require.NoError(t, err)
	require.Equal(t, 125*time.Second, cfg.Querier.QueryInterval)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.Interfaces)
}

func TestParseInterfaceList(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(newFlagSet(), []string{"--interfaces=eth0, eth1 ,eth2"})
	require.NoError(t, err)
	require.Equal(t, []string{"eth0", "eth1", "eth2"}, cfg.Interfaces)
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	_, err := Parse(newFlagSet(), []string{"--log-level=verbose"})
	require.Error(t, err)
}

func TestParseRejectsNonPositiveQueryInterval(t *testing.T) {
	t.Parallel()

	_, err := Parse(newFlagSet(), []string{"--query-interval=0s"})
	require.Error(t, err, "zero query-interval should be rejected")
}

func TestParseVersionMode(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(newFlagSet(), []string{"--version-mode=v2"})
	require.NoError(t, err)
	require.Equal(t, wire.V2, cfg.Querier.VersionMode)
}

func TestParseRejectsBadVersionMode(t *testing.T) {
	t.Parallel()

	_, err := Parse(newFlagSet(), []string{"--version-mode=v9"})
	require.Error(t, err)
}

func TestParseOverridesDefaultsFromFlags(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(newFlagSet(), []string{
		"--robustness=3",
		"--router-alert=false",
		"--metrics-addr=:9999",
	})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Querier.Robustness)
	require.False(t, cfg.Querier.RouterAlert)
	require.Equal(t, ":9999", cfg.MetricsAddr)
}
