// Package config loads mwc-node's TOML configuration file and layers
// MWC_* environment overrides on top of it; it has no CLI-flag
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default config file location.
const DefaultConfigPath = "./mwc-server.toml"

// ServerConfig holds the sync core and chain storage knobs.
type ServerConfig struct {
	ChainType       string `toml:"chain_type" yaml:"chain_type"`
	DataDir         string `toml:"data_dir" yaml:"data_dir"`
	HashRootQuorum  int    `toml:"hash_root_quorum" yaml:"hash_root_quorum"`
	PibdStartHeight uint64 `toml:"pibd_start_height" yaml:"pibd_start_height"`
}

// P2PConfig holds peer discovery and capability knobs.
type P2PConfig struct {
	ListenAddr       string        `toml:"listen_addr" yaml:"listen_addr"`
	Seeds            []string      `toml:"seeds" yaml:"seeds"`
	PeerMax          int           `toml:"peer_max" yaml:"peer_max"`
	BanThreshold     int           `toml:"ban_threshold" yaml:"ban_threshold"`
	SyncPollInterval time.Duration `toml:"sync_poll_interval" yaml:"sync_poll_interval"`
}

// StratumMiningServerConfig holds the stratum server's bind address;
// mining itself is out of scope, this config table exists only so the
// server knows whether to open the port.
type StratumMiningServerConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
}

// WalletConfig points at a wallet owner API; wallet operation itself is
// out of scope, this table only carries the connection coordinates.
// The `wallet` CLI subcommand does not read it.
type WalletConfig struct {
	OwnerAPIAddr string `toml:"owner_api_addr" yaml:"owner_api_addr"`
}

// APIConfig holds the owner/foreign JSON-RPC and REST bind addresses
// and Basic-auth credentials.
type APIConfig struct {
	ListenAddr     string `toml:"listen_addr" yaml:"listen_addr"`
	OwnerUser      string `toml:"owner_user" yaml:"owner_user"`
	OwnerPassHash  string `toml:"owner_pass_hash" yaml:"owner_pass_hash"`
	ForeignEnabled bool   `toml:"foreign_enabled" yaml:"foreign_enabled"`
}

// Config is the top-level TOML document.
type Config struct {
	Server        ServerConfig              `toml:"server" yaml:"server"`
	P2P           P2PConfig                 `toml:"p2p" yaml:"p2p"`
	StratumMining StratumMiningServerConfig `toml:"stratum_mining_server" yaml:"stratum_mining_server"`
	Wallet        WalletConfig              `toml:"wallet" yaml:"wallet"`
	API           APIConfig                 `toml:"api" yaml:"api"`
}

// Default returns a config with the same defaults a fresh mwc-server.toml
// would carry.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ChainType:      "mainnet",
			DataDir:        "./chain_data",
			HashRootQuorum: 3,
		},
		P2P: P2PConfig{
			ListenAddr:       "0.0.0.0:3414",
			PeerMax:          64,
			BanThreshold:     10,
			SyncPollInterval: 500 * time.Millisecond,
		},
		StratumMining: StratumMiningServerConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0:3416",
		},
		API: APIConfig{
			ListenAddr:     "127.0.0.1:3413",
			ForeignEnabled: true,
		},
	}
}

// Load reads path (or DefaultConfigPath if empty), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config file %q not found", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode TOML config: %w", err)
	}
	LoadFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv overrides cfg in place from the MWC_CHAIN_TYPE and
// MWC_DATA_DIR environment variables, so env values take precedence
// over the config file.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MWC_CHAIN_TYPE"); v != "" {
		cfg.Server.ChainType = v
	}
	if v := os.Getenv("MWC_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
}

// Validate reports a misconfigured document.
func (c Config) Validate() error {
	if c.Server.ChainType == "" {
		return fmt.Errorf("server.chain_type must not be empty")
	}
	if c.Server.HashRootQuorum < 1 {
		return fmt.Errorf("server.hash_root_quorum must be at least 1")
	}
	if c.P2P.PeerMax < 1 {
		return fmt.Errorf("p2p.peer_max must be at least 1")
	}
	return nil
}

// DumpYAML renders the config as YAML for operator debugging
// (`mwc-node server --dump-config-yaml`); the wire config format stays
// TOML, this is a read-only convenience view.
func (c Config) DumpYAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render config as YAML: %w", err)
	}
	return string(out), nil
}
