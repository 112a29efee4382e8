// Package cliconfig loads the Solana CLI configuration file, which names the
// RPC endpoint, the default keypair and the commitment level to use.
package cliconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/code-payments/solana-counter/pkg/solana"
)

const (
	RPCURLEnvName      = "SOLANA_RPC_URL"
	KeypairPathEnvName = "SOLANA_KEYPAIR_PATH"
	CommitmentEnvName  = "SOLANA_COMMITMENT"
)

// ErrInvalidConfig indicates the configuration file exists but could not be
// used.
var ErrInvalidConfig = errors.New("invalid solana cli config")

// Config is the subset of the Solana CLI configuration used by this module.
type Config struct {
	JSONRPCURL   string `mapstructure:"json_rpc_url"`
	WebsocketURL string `mapstructure:"websocket_url"`
	KeypairPath  string `mapstructure:"keypair_path"`
	Commitment   string `mapstructure:"commitment"`
}

// DefaultConfigPath returns the location the Solana CLI stores its
// configuration in.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "solana", "cli", "config.yml")
}

// DefaultKeypairPath returns the location of the Solana CLI's default keypair.
func DefaultKeypairPath() string {
	return filepath.Join(homeDir(), ".config", "solana", "id.json")
}

// Load reads the configuration at path. A missing file yields the defaults a
// fresh Solana CLI install would use. Environment variables take precedence
// over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("json_rpc_url", string(solana.EnvironmentLocal))
	v.SetDefault("websocket_url", "")
	v.SetDefault("keypair_path", DefaultKeypairPath())
	v.SetDefault("commitment", solana.CommitmentConfirmed.Commitment)

	_ = v.BindEnv("json_rpc_url", RPCURLEnvName)
	_ = v.BindEnv("keypair_path", KeypairPathEnvName)
	_ = v.BindEnv("commitment", CommitmentEnvName)

	// viper only reports a missing file when searching config paths, so an
	// explicit path is checked here.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to check if config %s exists", path)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s: %v", path, err)
	}

	if len(config.JSONRPCURL) == 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s: json_rpc_url is empty", path)
	}
	if _, err := solana.CommitmentFromString(config.Commitment); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s: %v", path, err)
	}
	config.KeypairPath = ExpandHome(config.KeypairPath)

	return &config, nil
}

// CommitmentLevel returns the configured commitment.
func (c *Config) CommitmentLevel() solana.Commitment {
	commitment, err := solana.CommitmentFromString(c.Commitment)
	if err != nil {
		return solana.CommitmentConfirmed
	}
	return commitment
}

// ExpandHome expands a leading ~ to the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
