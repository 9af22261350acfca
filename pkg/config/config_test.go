package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSiteConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen-addr = "127.0.0.1:9100"
controller-addr = "127.0.0.1:9000"
db-path = "custom.db"
lock-wait-timeout = "30s"
peers = ["127.0.0.1:9101"]
`), 0o644))

	cfg, err := LoadSiteConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9100", cfg.ListenAddr)
	require.Equal(t, "custom.db", cfg.DBPath)
	require.Equal(t, 30*time.Second, cfg.LockWaitTimeout.Get())
	require.Equal(t, []string{"127.0.0.1:9101"}, cfg.Peers)
}

func TestLoadSiteConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadSiteConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultSiteConfig, cfg)
}

func TestLoadControllerConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen-addr = "127.0.0.1:9000"
deadlock-policy = "abort_requester"
liveness-interval = "2s"
`), 0o644))

	cfg, err := LoadControllerConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	require.Equal(t, 2*time.Second, cfg.LivenessInterval.Get())
}

func TestDurationRejectsInvalidText(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("not-a-duration"))
	require.Error(t, err)
}
