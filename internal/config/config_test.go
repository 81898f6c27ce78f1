package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bully/node/internal/identity"
)

func setEnv(t *testing.T, values map[string]string) {
	t.Helper()
	for k, v := range values {
		t.Setenv(k, v)
	}
}

func TestLoadRequiresGCDAddress(t *testing.T) {
	setEnv(t, map[string]string{
		"DAYS_TO_BDAY": "10",
		"STUDENT_ID":   "100",
	})
	os.Unsetenv("GCD_HOST")
	os.Unsetenv("GCD_PORT")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"GCD_HOST":     "gcd.example.com",
		"GCD_PORT":     "15000",
		"DAYS_TO_BDAY": "10",
		"STUDENT_ID":   "100",
	})

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "gcd.example.com", cfg.GCDHost)
	require.Equal(t, 15000, cfg.GCDPort)
	require.Equal(t, DefaultTimeouts().TBully, cfg.Timeouts.TBully)
}

func TestLoadYAMLOverridesTimeouts(t *testing.T) {
	setEnv(t, map[string]string{
		"GCD_HOST":     "gcd.example.com",
		"GCD_PORT":     "15000",
		"DAYS_TO_BDAY": "10",
		"STUDENT_ID":   "100",
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeouts:\n  t_bully: 2s\n  feign_enabled: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2_000_000_000, int(cfg.Timeouts.TBully))
	require.True(t, cfg.Timeouts.FeignEnabled)
}

func TestLoadYAMLParsesStaticPeers(t *testing.T) {
	setEnv(t, map[string]string{
		"GCD_HOST":     "gcd.example.com",
		"GCD_PORT":     "15000",
		"DAYS_TO_BDAY": "10",
		"STUDENT_ID":   "100",
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	yamlBody := "static_peers:\n  - host: 127.0.0.1\n    port: 9001\n    days: 3\n    student_id: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.StaticPeers, 1)
	addr := identity.ListenAddress{Host: "127.0.0.1", Port: 9001}
	require.Equal(t, identity.Identity{Days: 3, StudentID: 7}, cfg.StaticPeers[addr])
}

func TestLoadMissingYAMLFileIsIgnored(t *testing.T) {
	setEnv(t, map[string]string{
		"GCD_HOST":     "gcd.example.com",
		"GCD_PORT":     "15000",
		"DAYS_TO_BDAY": "10",
		"STUDENT_ID":   "100",
	})

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultTimeouts().TBully, cfg.Timeouts.TBully)
}
