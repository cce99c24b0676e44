package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "mwc-server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
chain_type = "floonet"
data_dir = "/var/mwc"
hash_root_quorum = 5

[p2p]
peer_max = 32
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "floonet", cfg.Server.ChainType)
	require.Equal(t, 5, cfg.Server.HashRootQuorum)
	require.Equal(t, 32, cfg.P2P.PeerMax)
	require.Equal(t, 10, cfg.P2P.BanThreshold, "unset fields keep Default()'s value")
}

func TestLoadFromEnvOverridesFileValues(t *testing.T) {
	t.Setenv("MWC_CHAIN_TYPE", "usertestnet")
	t.Setenv("MWC_DATA_DIR", "/tmp/mwc-env")

	cfg := Default()
	LoadFromEnv(&cfg)
	require.Equal(t, "usertestnet", cfg.Server.ChainType)
	require.Equal(t, "/tmp/mwc-env", cfg.Server.DataDir)
}

func TestValidateRejectsBadQuorum(t *testing.T) {
	cfg := Default()
	cfg.Server.HashRootQuorum = 0
	require.Error(t, cfg.Validate())
}

func TestDumpYAMLRendersServerSection(t *testing.T) {
	cfg := Default()
	out, err := cfg.DumpYAML()
	require.NoError(t, err)
	require.Contains(t, out, "chain_type: mainnet")
}
