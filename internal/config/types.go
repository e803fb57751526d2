package config

import "time"

// Defaults applied when the config leaves a value out.
const (
	DefaultListen        = ":8323"
	DefaultRatePerSecond = 20
	DefaultBurst         = 40
	DefaultQueue         = 8
	DefaultRetrySec      = 60
)

// UnitConfig describes one RTR unit.
type UnitConfig struct {
	Name   string `mapstructure:"name"`
	Remote string `mapstructure:"remote"`
	Retry  int    `mapstructure:"retry"`
}

// RetryInterval returns the configured retry as a duration.
func (u UnitConfig) RetryInterval() time.Duration {
	return time.Duration(u.Retry) * time.Second
}
