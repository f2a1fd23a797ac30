package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig     `mapstructure:"storage"`
	Server  ServerConfig      `mapstructure:"server"`
	Graph   GraphConfig       `mapstructure:"graph"`
	Sources map[string]string `mapstructure:"sources"`
	Ingest  IngestConfig      `mapstructure:"ingest"`
	Log     LogConfig         `mapstructure:"log"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Listen     string `mapstructure:"listen"`
	AuthToken  string `mapstructure:"auth_token"`
	ReadOnly   bool   `mapstructure:"read_only"`
	RateLimit  int    `mapstructure:"rate_limit"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IngestConfig controls scheduled ingests of the configured sources.
// Interval uses Go duration format; empty disables the scheduler.
type IngestConfig struct {
	Interval  string `mapstructure:"interval"`
	OnStartup bool   `mapstructure:"on_startup"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".planbridge"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("planbridge")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PLANBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("storage.path", "./data/planbridge.db")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.auth_token", "")
	viper.SetDefault("server.read_only", false)
	viper.SetDefault("server.rate_limit", 10)
	viper.SetDefault("server.cors_origin", "")
	viper.SetDefault("graph.uri", "bolt://localhost:7687")
	viper.SetDefault("graph.username", "")
	viper.SetDefault("graph.password", "")
	viper.SetDefault("ingest.interval", "")
	viper.SetDefault("ingest.on_startup", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Secrets may arrive as ${VAR} references.
	cfg.Server.AuthToken = os.ExpandEnv(cfg.Server.AuthToken)
	cfg.Graph.Password = os.ExpandEnv(cfg.Graph.Password)

	return &cfg, nil
}

// SourceNames returns the configured source names sorted, so ingest
// order is deterministic.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
