// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kwaai-ai-lab/kwaainet-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the host-supplied configuration surface the core consumes:
// model name, block range, bootstrap peer list, public name, relay
// preference, and announce TTL (the collaborator interfaces the core
// declares in lieu of owning file I/O or flag parsing itself).
type Config struct {
	Model struct {
		Name          string `mapstructure:"name" json:"name"`
		StartBlock    int    `mapstructure:"start_block" json:"start_block"`
		EndBlock      int    `mapstructure:"end_block" json:"end_block"`
		TotalBlocks   int    `mapstructure:"total_blocks" json:"total_blocks"`
		RepositoryURL string `mapstructure:"repository_url" json:"repository_url"`
	} `mapstructure:"model" json:"model"`

	Node struct {
		PublicName   string        `mapstructure:"public_name" json:"public_name"`
		ListenAddr   string        `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag string        `mapstructure:"discovery_tag" json:"discovery_tag"`
		UsingRelay   bool          `mapstructure:"using_relay" json:"using_relay"`
		AnnounceTTL  time.Duration `mapstructure:"announce_ttl" json:"announce_ttl"`
	} `mapstructure:"node" json:"node"`

	Bootstrap struct {
		Peers []string      `mapstructure:"peers" json:"peers"`
		Grace time.Duration `mapstructure:"grace" json:"grace"`
	} `mapstructure:"bootstrap" json:"bootstrap"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("KWAAINET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // picks up KWAAINET_* overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the KWAAINET_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("KWAAINET_ENV", ""))
}
