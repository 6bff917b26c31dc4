// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	DatabaseDSN string `env:"DATABASE_DSN,required,notEmpty"`

	JWTSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"12h"`

	// SeatCount is the number of judge seats per combat.
	SeatCount int `env:"SEAT_COUNT" envDefault:"3"`
	// IncidentQuorum is how many incidents unlock scoring.
	IncidentQuorum int `env:"INCIDENT_QUORUM" envDefault:"2"`

	// WSReadTimeout bounds how long a silent connection may live; it doubles
	// as the seat-release liveness bound for devices that vanish uncleanly.
	WSReadTimeout time.Duration `env:"WS_READ_TIMEOUT" envDefault:"30s"`
}

// Load reads an optional .env file, then the process environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.SeatCount < 1 {
		return Config{}, fmt.Errorf("SEAT_COUNT must be at least 1, got %d", cfg.SeatCount)
	}
	if cfg.IncidentQuorum < 1 {
		return Config{}, fmt.Errorf("INCIDENT_QUORUM must be at least 1, got %d", cfg.IncidentQuorum)
	}
	return cfg, nil
}
