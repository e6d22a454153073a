// Package config loads agent configuration from flags with environment
// variable overrides, in the same flag-then-env layering the ambient
// HTTP server in this repo has always used.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds all agent configuration.
type Config struct {
	BLE      BLEConfig
	Debug    DebugServerConfig
	Database DatabaseConfig
	DSN      DSNConfig
}

// BLEConfig controls the GATT provisioning service.
type BLEConfig struct {
	Adapter       string // e.g. "hci0"
	WifiInterface string // e.g. "wlan0", passed to the supplicant collaborator
}

// DebugServerConfig controls the optional HTTP debug/status surface.
type DebugServerConfig struct {
	Enabled      bool
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig controls the audit log's sqlite backing store.
type DatabaseConfig struct {
	Path string
}

// DSNConfig selects how the device serial number is sourced.
type DSNConfig struct {
	Static    string // non-empty: use this DSN verbatim
	CachePath string // empty Static: generate and cache here
}

// Load reads configuration from flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	adapter := flag.String("adapter", "hci0", "Bluetooth adapter to drive")
	wifiIface := flag.String("wifi-interface", "wlan0", "wpa_supplicant interface name")
	debugEnabled := flag.Bool("debug-http", true, "Enable the HTTP debug/status surface")
	debugHost := flag.String("debug-host", "localhost", "Debug HTTP server host")
	debugPort := flag.String("debug-port", "8864", "Debug HTTP server port")
	dbPath := flag.String("db", "btprovd.db", "Path to the audit log SQLite database file")
	dsnStatic := flag.String("dsn", "", "Static device serial number (15 bytes); generated and cached if empty")
	dsnCache := flag.String("dsn-cache", "/var/lib/btprovd/dsn", "Path to cache a generated DSN")

	flag.Parse()

	if v := os.Getenv("BTPROVD_ADAPTER"); v != "" {
		*adapter = v
	}
	if v := os.Getenv("BTPROVD_WIFI_INTERFACE"); v != "" {
		*wifiIface = v
	}
	if v := os.Getenv("BTPROVD_DEBUG_HOST"); v != "" {
		*debugHost = v
	}
	if v := os.Getenv("BTPROVD_DEBUG_PORT"); v != "" {
		*debugPort = v
	}
	if v := os.Getenv("BTPROVD_DB_PATH"); v != "" {
		*dbPath = v
	}
	if v := os.Getenv("BTPROVD_DSN"); v != "" {
		*dsnStatic = v
	}
	if v := os.Getenv("BTPROVD_DSN_CACHE"); v != "" {
		*dsnCache = v
	}

	cfg.BLE = BLEConfig{Adapter: *adapter, WifiInterface: *wifiIface}
	cfg.Debug = DebugServerConfig{
		Enabled:      *debugEnabled,
		Host:         *debugHost,
		Port:         *debugPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	cfg.Database = DatabaseConfig{Path: *dbPath}
	cfg.DSN = DSNConfig{Static: *dsnStatic, CachePath: *dsnCache}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes before startup.
func (c *Config) Validate() error {
	if c.BLE.Adapter == "" {
		return fmt.Errorf("config: adapter cannot be empty")
	}
	if c.BLE.WifiInterface == "" {
		return fmt.Errorf("config: wifi-interface cannot be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path cannot be empty")
	}
	if c.DSN.Static != "" && len(c.DSN.Static) != 15 {
		return fmt.Errorf("config: dsn must be exactly 15 bytes, got %d", len(c.DSN.Static))
	}
	return nil
}
