// Package appagent models the cloud property agent as an external
// collaborator: the GATT service only needs its device-serial-number
// contract, so that is all this package exposes.
package appagent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// DSNProvider supplies the device serial number the identity service's
// dsn characteristic reads. Exactly 15 bytes, matching the wire layout.
type DSNProvider interface {
	DSN() (string, error)
}

// StaticDSNProvider returns a fixed, pre-provisioned DSN — the common
// case on hardware that burns one in at manufacturing time.
type StaticDSNProvider struct {
	Value string
}

func (p StaticDSNProvider) DSN() (string, error) {
	if len(p.Value) != 15 {
		return "", fmt.Errorf("appagent: static DSN %q is not 15 bytes", p.Value)
	}
	return p.Value, nil
}

// GeneratedDSNProvider derives (and caches to disk) a DSN from random
// bytes the first time it's asked, for development boards with no
// factory-provisioned serial.
type GeneratedDSNProvider struct {
	CachePath string
}

func (p GeneratedDSNProvider) DSN() (string, error) {
	if b, err := os.ReadFile(p.CachePath); err == nil {
		dsn := strings.TrimSpace(string(b))
		if len(dsn) == 15 {
			return dsn, nil
		}
	}
	dsn, err := generateDSN()
	if err != nil {
		return "", err
	}
	_ = os.WriteFile(p.CachePath, []byte(dsn), 0o600)
	return dsn, nil
}

func generateDSN() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("appagent: generate DSN: %w", err)
	}
	hexStr := hex.EncodeToString(raw[:]) // 16 hex chars
	return ("AY" + hexStr)[:15], nil
}
