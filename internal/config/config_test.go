package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/types"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[primary]
replicate_default = "all"
backup_timeout = 120000000000

[transport]
kind = "sqs"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "all", cfg.Primary.ReplicateDefault)
	require.Equal(t, 2*time.Minute, cfg.Primary.BackupTimeout)
	require.Equal(t, "sqs", cfg.Transport.Kind)
	require.Equal(t, types.ReplicateAll, cfg.Primary.ReplicationLevel())
	require.Equal(t, Default().HTTP.ListenAddr, cfg.HTTP.ListenAddr)
}

func TestPrimaryConfig_ReplicationLevel_DefaultsOnUnknownValue(t *testing.T) {
	pc := PrimaryConfig{ReplicateDefault: "bogus"}
	require.Equal(t, types.ReplicateNone, pc.ReplicationLevel())
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	require.Error(t, err)
}
