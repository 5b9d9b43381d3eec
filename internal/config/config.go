// Package config loads the build-time provisioning parameters that, on the
// real target, are baked in by the provisioning toolchain as compile-time
// constants (MAGIC_CONSTANT, COMPONENT_IDS[], AP_PIN, AP_TOKEN, ...). Here
// they are read once at process start from a signed/trusted YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors the provisioning toolchain's compile-time constants.
type Config struct {
	Roster   RosterConfig   `yaml:"roster"`
	Auth     AuthConfig     `yaml:"auth"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Boot     BootConfig     `yaml:"boot"`
	Bus      BusConfig      `yaml:"bus"`
	Logs     LogsConfig     `yaml:"logs"`
}

type RosterConfig struct {
	Magic        uint32   `yaml:"magic"`
	ComponentIDs []uint32 `yaml:"component_ids"`
}

// AuthConfig carries the operator secrets. AP_PIN is exactly 6 characters,
// AP_TOKEN exactly 16, matching the lengths validate_pin/validate_token
// enforce.
type AuthConfig struct {
	PIN   string `yaml:"pin"`
	Token string `yaml:"token"`
}

// CryptoConfig carries the AES and keyed-hash key material. AESKeyHex must
// decode to 16 bytes (AES-128); HashKeyHex is the HMAC-SHA256 key for the
// roster MAC.
type CryptoConfig struct {
	AESKeyHex  string `yaml:"aes_key_hex"`
	HashKeyHex string `yaml:"hash_key_hex"`
}

type BootConfig struct {
	Message string `yaml:"message"`
}

type BusConfig struct {
	FlashPath string `yaml:"flash_path"`
}

type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads and parses the provisioning file at path, pre-populating
// defaults before unmarshalling so a partially-specified file still yields
// a runnable AP, the same pattern config.Load uses for console-server.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Roster: RosterConfig{
			Magic:        0x4354464D, // "MFTC" — first-boot default, overridable
			ComponentIDs: []uint32{},
		},
		Logs: LogsConfig{
			Path:          "/var/lib/ap/logs",
			RetentionDays: 30,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse provisioning config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Auth.PIN) != 6 {
		return fmt.Errorf("auth.pin must be exactly 6 characters, got %d", len(c.Auth.PIN))
	}
	if len(c.Auth.Token) != 16 {
		return fmt.Errorf("auth.token must be exactly 16 characters, got %d", len(c.Auth.Token))
	}
	if len(c.Roster.ComponentIDs) > 32 {
		return fmt.Errorf("roster.component_ids: at most 32 entries, got %d", len(c.Roster.ComponentIDs))
	}
	return nil
}
