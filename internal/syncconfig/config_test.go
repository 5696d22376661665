package syncconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, Defaults().Policy.MaxConcurrentSyncs, cfg.Policy.MaxConcurrentSyncs)
}

func TestLoad_DecodesOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[policy]
require_network = true
max_concurrent_syncs = 7
conflict_strategy = "manual"

[network]
base_url = "https://example.test"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Policy.MaxConcurrentSyncs)
	assert.Equal(t, "manual", cfg.Policy.ConflictStrategy)
	assert.Equal(t, "https://example.test", cfg.Network.BaseURL)
}

func TestLoad_InvalidTOMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPolicyFor_UsesFamilyOverrideWhenPresent(t *testing.T) {
	cfg := Defaults()
	cfg.Families = map[string]PolicyConfig{
		"contacts": {MaxConcurrentSyncs: 9, MaxSyncDuration: "5m", RetryBaseDelay: "2s", TombstoneRetention: "1h"},
	}

	policy, err := cfg.PolicyFor("contacts")
	require.NoError(t, err)
	assert.Equal(t, 9, policy.MaxConcurrentSyncs)
	assert.Equal(t, 5*time.Minute, policy.MaxSyncDuration)
}

func TestPolicyFor_FallsBackToGlobalPolicyForUnknownFamily(t *testing.T) {
	cfg := Defaults()

	policy, err := cfg.PolicyFor("notes")
	require.NoError(t, err)
	assert.Equal(t, cfg.Policy.MaxConcurrentSyncs, policy.MaxConcurrentSyncs)
}

func TestPolicyFor_InvalidDurationErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Policy.MaxSyncDuration = "not-a-duration"

	_, err := cfg.PolicyFor("contacts")
	assert.Error(t, err)
}

func TestPolicyFor_EmptyDurationDefaultsToZero(t *testing.T) {
	cfg := Defaults()
	cfg.Policy.TombstoneRetention = ""

	policy, err := cfg.PolicyFor("contacts")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), policy.TombstoneRetention)
}
