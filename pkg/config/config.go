// Package config defines the TOML-configured settings for the
// controller and site binaries, following the pattern of
// talent-plan-tinykv's config package (BurntSushi/toml, DecodeFile).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// SiteConfig configures cmd/site.
type SiteConfig struct {
	ListenAddr      string   `toml:"listen-addr"`
	ControllerAddr  string   `toml:"controller-addr"`
	DBPath          string   `toml:"db-path"`
	LockWaitTimeout Duration `toml:"lock-wait-timeout"`
	Peers           []string `toml:"peers"`
	HistoryLogPath  string   `toml:"history-log-path"`
}

// DefaultSiteConfig mirrors the teacher's DefaultConf pattern: sensible
// values that let cmd/site start with no config file at all.
var DefaultSiteConfig = SiteConfig{
	ListenAddr:      "127.0.0.1:7100",
	ControllerAddr:  "127.0.0.1:7000",
	DBPath:          "site.db",
	LockWaitTimeout: Duration(30 * time.Second),
	HistoryLogPath:  "site-history.log",
}

// ControllerConfig configures cmd/controller.
type ControllerConfig struct {
	ListenAddr             string   `toml:"listen-addr"`
	DeadlockPolicy         string   `toml:"deadlock-policy"` // "abort_requester" | "periodic_victim"
	DefaultLockWaitTimeout Duration `toml:"default-lock-wait-timeout"`
	LivenessInterval       Duration `toml:"liveness-interval"`
	ReplicationTimeout     Duration `toml:"replication-timeout"`
}

// DefaultControllerConfig mirrors the teacher's DefaultConf pattern.
var DefaultControllerConfig = ControllerConfig{
	ListenAddr:             "127.0.0.1:7000",
	DeadlockPolicy:         "abort_requester",
	DefaultLockWaitTimeout: Duration(30 * time.Second),
	LivenessInterval:       Duration(5 * time.Second),
	ReplicationTimeout:     Duration(5 * time.Second),
}

// Duration is a time.Duration that decodes from TOML string values like
// "10s", since BurntSushi/toml has no native duration type.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Get returns the underlying time.Duration.
func (d Duration) Get() time.Duration { return time.Duration(d) }

// LoadSiteConfig reads and decodes a SiteConfig from path, starting from
// DefaultSiteConfig so a partial file only overrides what it sets.
func LoadSiteConfig(path string) (SiteConfig, error) {
	cfg := DefaultSiteConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load site config: %w", err)
	}
	return cfg, nil
}

// LoadControllerConfig reads and decodes a ControllerConfig from path.
func LoadControllerConfig(path string) (ControllerConfig, error) {
	cfg := DefaultControllerConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load controller config: %w", err)
	}
	return cfg, nil
}
