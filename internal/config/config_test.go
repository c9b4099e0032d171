package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsUnknownLoadBalancingMode(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("routing:\n  load_balancing_mode: bogus\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("KIRO_SERVER_PORT", "9999")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
}

func TestCredentialsPathJoinsConfigDir(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.ConfigDir = "/etc/kiro"
	cfg.Storage.CredentialsFile = "credentials.json"
	require.Equal(t, "/etc/kiro/credentials.json", cfg.CredentialsPath())
}
