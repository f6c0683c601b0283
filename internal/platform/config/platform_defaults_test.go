package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePlatformDefaultsOverlaysBuiltin(t *testing.T) {
	raw := []byte(`
currency: INR
commissionRateBps: 1250
tax:
  enabled: true
  rateBps: 1800
enabledPaymentMethods: [gateway, wallet]
`)
	got, err := ParsePlatformDefaults(raw)
	if err != nil {
		t.Fatalf("ParsePlatformDefaults: %v", err)
	}
	if got.Currency != "INR" || got.CommissionRateBps != 1250 || !got.Tax.Enabled || got.Tax.RateBps != 1800 {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if got.MinimumPayout != 1000 {
		t.Fatalf("expected builtin minimum payout to survive, got %d", got.MinimumPayout)
	}
	if len(got.EnabledPaymentMethods) != 2 {
		t.Fatalf("expected methods from file, got %v", got.EnabledPaymentMethods)
	}
}

func TestParsePlatformDefaultsRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "comission: 10\n",
		"wrong type":     "commissionRateBps: ten\n",
		"no methods":     "enabledPaymentMethods: []\n",
		"empty currency": "currency: \"\"\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlatformDefaults([]byte(raw)); err == nil {
				t.Fatalf("expected error for %q", raw)
			}
		})
	}
}

func TestLoadPlatformDefaultsFile(t *testing.T) {
	builtin, err := LoadPlatformDefaults("")
	if err != nil || builtin.Currency != "USD" {
		t.Fatalf("expected builtin defaults, got %+v (%v)", builtin, err)
	}

	path := filepath.Join(t.TempDir(), "platform.yaml")
	if err := os.WriteFile(path, []byte("minimumPayout: 5000\n"), 0o600); err != nil {
		t.Fatalf("write defaults: %v", err)
	}
	got, err := LoadPlatformDefaults(path)
	if err != nil {
		t.Fatalf("LoadPlatformDefaults: %v", err)
	}
	if got.MinimumPayout != 5000 || got.Currency != "USD" {
		t.Fatalf("unexpected defaults %+v", got)
	}

	if _, err := LoadPlatformDefaults(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}
