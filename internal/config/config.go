// Package config loads node startup parameters from a YAML file plus
// environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bully/node/internal/identity"
)

// TimeoutConfig bundles the overridable election/probe timeouts, along
// with their recommended defaults.
type TimeoutConfig struct {
	TBully       time.Duration `yaml:"t_bully"`
	TFollower    time.Duration `yaml:"t_follower"`
	TConnect     time.Duration `yaml:"t_connect"`
	TProbeMin    time.Duration `yaml:"t_probe_min"`
	TProbeMax    time.Duration `yaml:"t_probe_max"`
	FeignEnabled bool          `yaml:"feign_enabled"`
}

// DefaultTimeouts returns the spec-recommended timeout values.
func DefaultTimeouts() TimeoutConfig {
	tBully := 1500 * time.Millisecond
	return TimeoutConfig{
		TBully:    tBully,
		TFollower: 3 * tBully,
		TConnect:  tBully / 2,
		TProbeMin: 500 * time.Millisecond,
		TProbeMax: 3000 * time.Millisecond,
	}
}

// Config holds everything a node needs to start: identity, GCD address,
// its own listen address, and timeout overrides.
type Config struct {
	GCDHost    string
	GCDPort    int
	Days       int
	StudentID  int
	ListenHost string
	ListenPort int
	Timeouts   TimeoutConfig

	// StaticPeers seeds the membership table before the startup HOWDY,
	// for local testing. It does not replace the GCD: startup still
	// HOWDYs and fails if the GCD does not answer.
	StaticPeers map[identity.ListenAddress]identity.Identity
}

type yamlPeer struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Days      int    `yaml:"days"`
	StudentID int    `yaml:"student_id"`
}

type yamlOverrides struct {
	Timeouts    TimeoutConfig `yaml:"timeouts"`
	StaticPeers []yamlPeer    `yaml:"static_peers"`
}

// Load builds a Config from environment variables, optionally overlaying
// timeout values, the feign_enabled flag and static peers from a YAML
// file at path (skipped if path is empty or the file does not exist; any
// other read or parse error is returned).
func Load(path string) (*Config, error) {
	cfg := &Config{
		GCDHost:    getEnv("GCD_HOST", ""),
		GCDPort:    0,
		ListenHost: getEnv("LISTEN_HOST", "0.0.0.0"),
		ListenPort: 0,
		Timeouts:   DefaultTimeouts(),
	}

	var err error
	if cfg.GCDPort, err = getEnvInt("GCD_PORT", 0); err != nil {
		return nil, errors.Wrap(err, "GCD_PORT")
	}
	if cfg.Days, err = getEnvInt("DAYS_TO_BDAY", -1); err != nil {
		return nil, errors.Wrap(err, "DAYS_TO_BDAY")
	}
	if cfg.StudentID, err = getEnvInt("STUDENT_ID", -1); err != nil {
		return nil, errors.Wrap(err, "STUDENT_ID")
	}
	if cfg.ListenPort, err = getEnvInt("LISTEN_PORT", 0); err != nil {
		return nil, errors.Wrap(err, "LISTEN_PORT")
	}

	if path != "" {
		if err := applyYAMLOverrides(cfg, path); err != nil {
			return nil, err
		}
	}

	if cfg.GCDHost == "" || cfg.GCDPort == 0 {
		return nil, errors.New("GCD_HOST and GCD_PORT are required")
	}
	if cfg.Days < 0 || cfg.StudentID < 0 {
		return nil, errors.New("DAYS_TO_BDAY and STUDENT_ID are required")
	}

	return cfg, nil
}

func applyYAMLOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read config file %s", path)
	}

	var overrides yamlOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}

	if overrides.Timeouts.TBully > 0 {
		cfg.Timeouts.TBully = overrides.Timeouts.TBully
	}
	if overrides.Timeouts.TFollower > 0 {
		cfg.Timeouts.TFollower = overrides.Timeouts.TFollower
	}
	if overrides.Timeouts.TConnect > 0 {
		cfg.Timeouts.TConnect = overrides.Timeouts.TConnect
	}
	if overrides.Timeouts.TProbeMin > 0 {
		cfg.Timeouts.TProbeMin = overrides.Timeouts.TProbeMin
	}
	if overrides.Timeouts.TProbeMax > 0 {
		cfg.Timeouts.TProbeMax = overrides.Timeouts.TProbeMax
	}
	cfg.Timeouts.FeignEnabled = overrides.Timeouts.FeignEnabled

	if len(overrides.StaticPeers) > 0 {
		cfg.StaticPeers = make(map[identity.ListenAddress]identity.Identity, len(overrides.StaticPeers))
		for _, p := range overrides.StaticPeers {
			addr := identity.ListenAddress{Host: p.Host, Port: p.Port}
			cfg.StaticPeers[addr] = identity.Identity{Days: p.Days, StudentID: p.StudentID}
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
