package config

import "testing"

func validConfig() *Config {
	return &Config{
		BLE:      BLEConfig{Adapter: "hci0", WifiInterface: "wlan0"},
		Database: DatabaseConfig{Path: "btprovd.db"},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestValidateRejectsEmptyAdapter(t *testing.T) {
	c := validConfig()
	c.BLE.Adapter = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty adapter")
	}
}

func TestValidateRejectsEmptyWifiInterface(t *testing.T) {
	c := validConfig()
	c.BLE.WifiInterface = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty wifi interface")
	}
}

func TestValidateRejectsEmptyDatabasePath(t *testing.T) {
	c := validConfig()
	c.Database.Path = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty database path")
	}
}

func TestValidateRejectsWrongLengthStaticDSN(t *testing.T) {
	c := validConfig()
	c.DSN.Static = "too-short"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-15-byte static DSN")
	}
}

func TestValidateAcceptsCorrectLengthStaticDSN(t *testing.T) {
	c := validConfig()
	c.DSN.Static = "AY0123456789012"
	if len(c.DSN.Static) != 15 {
		t.Fatalf("test fixture itself is not 15 bytes")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid static DSN to pass, got %v", err)
	}
}
