// Package config holds the client's runtime settings. Values come from
// Default, then environment variables, then command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted by Config.Transport.
const (
	TransportWebsocket = "ws"
	TransportNATS      = "nats"
)

// Config holds tunable parameters for the roomchat client.
type Config struct {
	ServerURL      string        // websocket endpoint, e.g. ws://localhost:8080/ws
	Transport      string        // "ws" or "nats"
	NATSURL        string        // used when Transport is "nats"
	RedisAddr      string        // remembered-room storage; empty keeps it in memory
	Profile        string        // separates remembered rooms of several clients
	HistoryDSN     string        // Postgres transcript archive; empty disables it
	MetricsAddr    string        // Prometheus listener; empty disables it
	LogFile        string        // zap output path
	LogLevel       string        // debug, info, warn, error
	Nickname       string        // prefilled on the join screen
	Icon           string        // icon sent with join and create
	RequestTimeout time.Duration // bound on each transport call
	ReconnectWait  time.Duration // fixed wait between redials
	MaxReconnects  int           // redials per drop (-1 for infinite)
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ServerURL:      "ws://localhost:8080/ws",
		Transport:      TransportWebsocket,
		NATSURL:        "nats://localhost:4222",
		Profile:        "default",
		LogFile:        "roomchat.log",
		LogLevel:       "info",
		RequestTimeout: 10 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

// ApplyEnv overrides fields from environment variables. Unparseable values
// are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ROOMCHAT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ROOMCHAT_TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATSURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("ROOMCHAT_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := os.Getenv("HISTORY_DSN"); v != "" {
		c.HistoryDSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("ROOMCHAT_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("ROOMCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("RECONNECT_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ReconnectWait = d
		}
	}
	if v := os.Getenv("MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= -1 {
			c.MaxReconnects = n
		}
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebsocket:
		if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
			return fmt.Errorf("config: server url %q must start with ws:// or wss://", c.ServerURL)
		}
	case TransportNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("config: nats url is required for the nats transport")
		}
	default:
		return fmt.Errorf("config: unknown transport %q (want %q or %q)", c.Transport, TransportWebsocket, TransportNATS)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("config: reconnect wait must be positive")
	}
	if c.MaxReconnects < -1 {
		return fmt.Errorf("config: max reconnects must be -1 or more")
	}
	if c.LogFile == "" {
		return fmt.Errorf("config: log file is required")
	}
	return nil
}
