package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
reader:
  card_reader_index: 0
  sam_reader_index: 1
  contactless: true
security:
  allowed_keys: ["30C1", "2179"]
  multi_session: true
  ratification_requested: true
sv:
  negative_balance_authorized: false
  both_logs_requested: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	settings, err := cfg.SessionSettings()
	if err != nil {
		t.Fatalf("SessionSettings returned error: %v", err)
	}
	if !settings.MultiSessionEnabled {
		t.Fatal("expected multi-session enabled")
	}
	if !settings.ContactlessReader {
		t.Fatal("expected contactless reader")
	}
	if !settings.BothSvLogsRequested {
		t.Fatal("expected both SV logs requested")
	}
	if !settings.AllowedKIFKVC[[2]byte{0x30, 0xC1}] || !settings.AllowedKIFKVC[[2]byte{0x21, 0x79}] {
		t.Fatalf("allow-list not parsed: %v", settings.AllowedKIFKVC)
	}
	if settings.AllowedKIFKVC[[2]byte{0x00, 0x00}] {
		t.Fatal("unexpected key in allow-list")
	}
}

func TestLoadReadOnlyModeSkipsSamRequirements(t *testing.T) {
	path := writeConfig(t, `
reader:
  card_reader_index: 0
`)

	if _, err := LoadWithMode(path, ValidationReadOnly); err != nil {
		t.Fatalf("read-only mode should not require SAM settings: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("full mode should require a SAM reader")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
reader:
  card_reader_index: 0
  sam_reader_index: 1
securty:
  multi_session: true
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Fatalf("expected unknown-field parse error, got %v", err)
	}
}

func TestLoadRejectsBadAllowedKey(t *testing.T) {
	path := writeConfig(t, `
reader:
  card_reader_index: 0
  sam_reader_index: 1
security:
  allowed_keys: ["30C"]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for 3-digit key entry")
	}
}

func TestPinCipheringKeyRequiredWhenEnabled(t *testing.T) {
	path := writeConfig(t, `
reader:
  card_reader_index: 0
  sam_reader_index: 1
security:
  pin_ciphering_required: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error when PIN ciphering enabled without KIF/KVC")
	}

	path = writeConfig(t, `
reader:
  card_reader_index: 0
  sam_reader_index: 1
security:
  pin_ciphering_required: true
  pin_ciphering_kif: "30"
  pin_ciphering_kvc: "C1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	kif, kvc := cfg.PinCipheringKey()
	if kif != 0x30 || kvc != 0xC1 {
		t.Fatalf("expected KIF=30 KVC=C1, got %02X %02X", kif, kvc)
	}
}
