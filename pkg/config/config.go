// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/pfrommerd/insteon/pkg/port"
)

// Config holds the connection settings for reaching a modem, read from
// the environment (optionally seeded from a .env file).
type Config struct {
	// SerialPort is the local serial device of the PLM.
	SerialPort string
	// Baud is the serial rate; 0 selects the PLM default.
	Baud int
	// URL selects a network-attached hub (ws:// or wss://) instead of a
	// serial port.
	URL      string
	Username string
	Password string
}

// Load reads configuration from INSTEON_* environment variables,
// loading a .env file first when one is present.
func Load() (*Config, error) {
	// Missing .env is fine; the environment alone may be complete
	_ = godotenv.Load()

	cfg := &Config{
		SerialPort: os.Getenv("INSTEON_PORT"),
		URL:        os.Getenv("INSTEON_URL"),
		Username:   os.Getenv("INSTEON_USERNAME"),
		Password:   os.Getenv("INSTEON_PASSWORD"),
	}
	if baud := os.Getenv("INSTEON_BAUD"); baud != "" {
		v, err := strconv.Atoi(baud)
		if err != nil {
			return nil, fmt.Errorf("invalid INSTEON_BAUD %q: %w", baud, err)
		}
		cfg.Baud = v
	}
	if cfg.SerialPort == "" && cfg.URL == "" {
		return nil, fmt.Errorf("either INSTEON_PORT or INSTEON_URL must be set")
	}
	return cfg, nil
}

// Connect opens the configured connection, serial or WebSocket.
func (c *Config) Connect() (port.Connection, error) {
	if c.URL != "" {
		return port.OpenWebSocket(c.URL, c.Username, c.Password, false)
	}
	return port.OpenSerial(c.SerialPort, c.Baud)
}
