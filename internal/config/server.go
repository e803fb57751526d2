package config

import (
	"fmt"
	"net"

	"golang.org/x/time/rate"
)

type ServerConfig struct {
	Listen        string `mapstructure:"listen"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	Burst         int    `mapstructure:"burst"`
}

func (s ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("server.listen %q: %w", s.Listen, err)
	}
	if s.RatePerSecond < 0 {
		return fmt.Errorf("server.rate_per_second must be >= 0")
	}
	if s.Burst < 0 {
		return fmt.Errorf("server.burst must be >= 0")
	}
	return nil
}

// Limit returns the request rate limit. Zero disables limiting.
func (s ServerConfig) Limit() rate.Limit {
	if s.RatePerSecond == 0 {
		return rate.Inf
	}
	return rate.Limit(s.RatePerSecond)
}

// BurstSize returns the limiter burst, at least one request.
func (s ServerConfig) BurstSize() int {
	if s.Burst < 1 {
		return max(1, s.RatePerSecond)
	}
	return s.Burst
}
