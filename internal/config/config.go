package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/rtr-relay/internal/notify"
)

type Config struct {
	Units   []UnitConfig  `mapstructure:"units"`
	Server  ServerConfig  `mapstructure:"server"`
	Gate    GateConfig    `mapstructure:"gate"`
	Logging LoggingConfig `mapstructure:"logging"`
	Notify  notify.Config `mapstructure:"notify"`
}

type GateConfig struct {
	Queue int `mapstructure:"queue"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.rate_per_second", DefaultRatePerSecond)
	v.SetDefault("server.burst", DefaultBurst)
	v.SetDefault("gate.queue", DefaultQueue)
	v.SetDefault("logging.level", "info")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", notify.DefaultServer)
	v.SetDefault("notify.priority", notify.DefaultPriority)
	v.SetDefault("notify.tags", notify.DefaultTags)

	// Environment variable support
	v.SetEnvPrefix("RTR_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rtr-relay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for i := range cfg.Units {
		if cfg.Units[i].Retry == 0 {
			cfg.Units[i].Retry = DefaultRetrySec
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}
	if c.Gate.Queue < 0 {
		return fmt.Errorf("gate.queue must be >= 0")
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	return ValidateUnits(c.Units)
}
