// Package config loads the terminal's YAML configuration: which PC/SC
// reader slots hold the card and the SAM, and the security settings the
// transaction engine consults (allowed keys, multi-session, stored-value
// policy). Strict decoding with KnownFields keeps typos in a config file
// from silently becoming defaults.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calypsonet/keyple-calypso-go/session"
)

type ValidationMode int

const (
	// ValidationFull requires the SAM reader and security settings; used by
	// flows that open a secure session (transact, sv).
	ValidationFull ValidationMode = iota
	// ValidationReadOnly only requires the card reader; used by the read
	// flow, which never touches the SAM.
	ValidationReadOnly
)

type Config struct {
	Reader   ReaderConfig   `yaml:"reader"`
	Security SecurityConfig `yaml:"security"`
	SV       SVConfig       `yaml:"sv"`
}

type ReaderConfig struct {
	CardReaderIndex *int   `yaml:"card_reader_index"`
	CardReaderName  string `yaml:"card_reader_name"`
	SamReaderIndex  *int   `yaml:"sam_reader_index"`
	SamReaderName   string `yaml:"sam_reader_name"`
	Contactless     *bool  `yaml:"contactless"`
}

type SecurityConfig struct {
	// AllowedKeys is the KIF/KVC allow-list, entries as 4 hex digits
	// ("30C1"). Empty means no restriction.
	AllowedKeys          []string `yaml:"allowed_keys"`
	MultiSession         *bool    `yaml:"multi_session"`
	RatificationRequested *bool   `yaml:"ratification_requested"`
	PinCipheringRequired *bool    `yaml:"pin_ciphering_required"`
	PinCipheringKIF      string   `yaml:"pin_ciphering_kif"`
	PinCipheringKVC      string   `yaml:"pin_ciphering_kvc"`
	// BasicModificationsCounterMax overrides the BASIC product's default
	// commands-mode session buffer (3) when set.
	BasicModificationsCounterMax *int `yaml:"basic_modifications_counter_max"`
}

type SVConfig struct {
	NegativeBalanceAuthorized *bool `yaml:"negative_balance_authorized"`
	BothLogsRequested         *bool `yaml:"both_logs_requested"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateCardReader(); err != nil {
		return err
	}
	if mode == ValidationReadOnly {
		return nil
	}
	return c.validateSecurity()
}

func (c *Config) validateCardReader() error {
	if c.Reader.CardReaderIndex == nil && strings.TrimSpace(c.Reader.CardReaderName) == "" {
		return fmt.Errorf("config.reader: one of card_reader_index or card_reader_name is required")
	}
	if c.Reader.CardReaderIndex != nil && *c.Reader.CardReaderIndex < 0 {
		return fmt.Errorf("config.reader.card_reader_index must be >= 0")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Reader.SamReaderIndex == nil && strings.TrimSpace(c.Reader.SamReaderName) == "" {
		return fmt.Errorf("config.reader: one of sam_reader_index or sam_reader_name is required for secure flows")
	}
	if c.Reader.SamReaderIndex != nil && *c.Reader.SamReaderIndex < 0 {
		return fmt.Errorf("config.reader.sam_reader_index must be >= 0")
	}
	for _, k := range c.Security.AllowedKeys {
		if _, _, err := parseKifKvc(k); err != nil {
			return fmt.Errorf("config.security.allowed_keys: %w", err)
		}
	}
	if c.Security.BasicModificationsCounterMax != nil && *c.Security.BasicModificationsCounterMax <= 0 {
		return fmt.Errorf("config.security.basic_modifications_counter_max must be > 0")
	}
	if c.Security.PinCipheringRequired != nil && *c.Security.PinCipheringRequired {
		if _, err := parseKeyByte(c.Security.PinCipheringKIF); err != nil {
			return fmt.Errorf("config.security.pin_ciphering_kif: %w", err)
		}
		if _, err := parseKeyByte(c.Security.PinCipheringKVC); err != nil {
			return fmt.Errorf("config.security.pin_ciphering_kvc: %w", err)
		}
	}
	return nil
}

func parseKifKvc(s string) (kif, kvc byte, err error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != 2 {
		return 0, 0, fmt.Errorf("entry %q must be 4 hex digits (KIF then KVC)", s)
	}
	return raw[0], raw[1], nil
}

func parseKeyByte(s string) (byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != 1 {
		return 0, fmt.Errorf("value %q must be 2 hex digits", s)
	}
	return raw[0], nil
}

// PinCipheringKey returns the configured PIN ciphering KIF/KVC. Only valid
// after Validate has passed with pin_ciphering_required set.
func (c *Config) PinCipheringKey() (kif, kvc byte) {
	kif, _ = parseKeyByte(c.Security.PinCipheringKIF)
	kvc, _ = parseKeyByte(c.Security.PinCipheringKVC)
	return kif, kvc
}

// SessionSettings converts the loaded configuration into the engine's
// session.Settings.
func (c *Config) SessionSettings() (session.Settings, error) {
	s := session.Settings{}
	if c.Security.MultiSession != nil {
		s.MultiSessionEnabled = *c.Security.MultiSession
	}
	if c.Security.RatificationRequested != nil {
		s.RatificationRequested = *c.Security.RatificationRequested
	}
	if c.Reader.Contactless != nil {
		s.ContactlessReader = *c.Reader.Contactless
	}
	if c.SV.NegativeBalanceAuthorized != nil {
		s.SvNegativeBalanceAuthorized = *c.SV.NegativeBalanceAuthorized
	}
	if c.SV.BothLogsRequested != nil {
		s.BothSvLogsRequested = *c.SV.BothLogsRequested
	}
	if c.Security.BasicModificationsCounterMax != nil {
		s.BasicModificationsCounterMax = *c.Security.BasicModificationsCounterMax
	}
	if len(c.Security.AllowedKeys) > 0 {
		s.AllowedKIFKVC = make(map[[2]byte]bool, len(c.Security.AllowedKeys))
		for _, k := range c.Security.AllowedKeys {
			kif, kvc, err := parseKifKvc(k)
			if err != nil {
				return session.Settings{}, fmt.Errorf("config.security.allowed_keys: %w", err)
			}
			s.AllowedKIFKVC[[2]byte{kif, kvc}] = true
		}
	}
	return s, nil
}
