// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the
// environment without overriding what is already set. Missing files are
// skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Common is shared by both binaries.
type Common struct {
	LogLevel   string        `env:"LOBBY_LOG_LEVEL" envDefault:"info"`
	LogDev     bool          `env:"LOBBY_LOG_DEV" envDefault:"false"`
	HTTPAddr   string        `env:"LOBBY_HTTP_ADDR"`
	TickPeriod time.Duration `env:"LOBBY_TICK" envDefault:"50ms"`
	MapsDir    string        `env:"LOBBY_MAPS_DIR" envDefault:"maps"`

	EtcdEndpoints []string      `env:"LOBBY_ETCD_ENDPOINTS" envSeparator:","`
	EtcdTTL       int64         `env:"LOBBY_ETCD_TTL" envDefault:"10"`
	EtcdTimeout   time.Duration `env:"LOBBY_ETCD_DIAL_TIMEOUT" envDefault:"5s"`
}

// Server configures the coordinator.
type Server struct {
	Common

	ListenAddr string        `env:"LOBBY_LISTEN" envDefault:":6660"`
	LobbyID    string        `env:"LOBBY_ID" envDefault:"default"`
	HostName   string        `env:"LOBBY_HOST_NAME" envDefault:"host"`
	Map        string        `env:"LOBBY_MAP,required"`
	Probe      time.Duration `env:"LOBBY_PROBE_AFTER" envDefault:"5s"`
	Dead       time.Duration `env:"LOBBY_DEAD_AFTER" envDefault:"15s"`

	// address published in etcd; defaults to the bound socket address
	AdvertiseAddr string `env:"LOBBY_ADVERTISE_ADDR"`
}

// Client configures one peer.
type Client struct {
	Common

	ListenAddr string `env:"LOBBY_LISTEN" envDefault:":0"`
	Server     string `env:"LOBBY_SERVER"`
	LobbyID    string `env:"LOBBY_ID"` // picks among advertised lobbies; first by id if empty
	Name       string `env:"LOBBY_NAME" envDefault:"player"`
}

func (c Server) Validate() error {
	if c.Dead <= c.Probe {
		return fmt.Errorf("LOBBY_DEAD_AFTER (%s) must exceed LOBBY_PROBE_AFTER (%s)", c.Dead, c.Probe)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("LOBBY_TICK must be positive")
	}
	return nil
}

func (c Client) Validate() error {
	if c.Server == "" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("set LOBBY_SERVER or LOBBY_ETCD_ENDPOINTS")
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("LOBBY_TICK must be positive")
	}
	return nil
}
