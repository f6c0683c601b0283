package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformDefaults is the first platform settings version published when none exists yet.
// Later versions are created by admins; the file is never re-applied over a published version.
type PlatformDefaults struct {
	Currency              string      `yaml:"currency"`
	CommissionRateBps     int64       `yaml:"commissionRateBps"`
	Tax                   TaxDefaults `yaml:"tax"`
	MinimumPayout         int64       `yaml:"minimumPayout"`
	EnabledPaymentMethods []string    `yaml:"enabledPaymentMethods"`
}

// TaxDefaults configures the optional flat tax applied after discounts.
type TaxDefaults struct {
	Enabled bool  `yaml:"enabled"`
	RateBps int64 `yaml:"rateBps"`
}

// BuiltinPlatformDefaults is used when no defaults file is configured.
func BuiltinPlatformDefaults() PlatformDefaults {
	return PlatformDefaults{
		Currency:              "USD",
		CommissionRateBps:     1000,
		MinimumPayout:         1000,
		EnabledPaymentMethods: []string{"card", "gateway", "wallet", "cash_on_delivery"},
	}
}

// LoadPlatformDefaults reads a YAML defaults file. An empty path yields the builtin defaults;
// keys absent from the file keep their builtin values.
func LoadPlatformDefaults(path string) (PlatformDefaults, error) {
	defaults := BuiltinPlatformDefaults()
	path = strings.TrimSpace(path)
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return PlatformDefaults{}, fmt.Errorf("config: read platform defaults %s: %w", path, err)
	}
	return ParsePlatformDefaults(raw)
}

// ParsePlatformDefaults decodes YAML over the builtin defaults, rejecting unknown keys.
func ParsePlatformDefaults(raw []byte) (PlatformDefaults, error) {
	defaults := BuiltinPlatformDefaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return defaults, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&defaults); err != nil {
		return PlatformDefaults{}, fmt.Errorf("config: decode platform defaults: %w", err)
	}
	if defaults.Currency == "" {
		return PlatformDefaults{}, errors.New("config: platform defaults currency is required")
	}
	if len(defaults.EnabledPaymentMethods) == 0 {
		return PlatformDefaults{}, errors.New("config: platform defaults must enable at least one payment method")
	}
	return defaults, nil
}
