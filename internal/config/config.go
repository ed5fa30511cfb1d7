// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/schedule"
	"github.com/YanDao0313/lockit/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete lockit configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Password holds the unlock credentials.
	Password auth.PasswordConfig `toml:"password" json:"password"`

	// Schedule is the weekly lock schedule.
	Schedule schedule.WeeklySchedule `toml:"schedule" json:"schedule"`

	// Server configures the local HTTP boundary.
	Server ServerConfig `toml:"server" json:"server"`

	// Audit configures the security audit trail.
	Audit AuditConfig `toml:"audit" json:"audit"`

	// Photos configures failed-attempt snapshot storage.
	Photos PhotosConfig `toml:"photos" json:"photos"`

	// Ledger configures the unlock-attempt record store.
	Ledger LedgerConfig `toml:"ledger" json:"ledger"`

	// UI holds presentation preferences the engine stores but never
	// interprets.
	UI UIConfig `toml:"ui" json:"ui"`
}

// ServerConfig contains the HTTP boundary configuration.
type ServerConfig struct {
	// BindAddr is the listen address. Loopback only; the engine refuses
	// to serve on other interfaces.
	BindAddr string `toml:"bind_addr" json:"bind_addr"`
	// Port is the listen port.
	Port int `toml:"port" json:"port"`
	// RateLimitPerMinute caps unlock and quit-auth verification requests
	// per client. 0 disables the limiter.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	// TickIntervalSecs is the schedule evaluation interval in seconds.
	TickIntervalSecs int `toml:"tick_interval_secs" json:"tick_interval_secs"`
}

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	// Enabled toggles the audit trail.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the audit log file (empty = ~/.lockit/audit.log).
	Path string `toml:"path" json:"path"`
	// MaxSizeMB rotates the log when it exceeds this size.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb"`
}

// PhotosConfig contains snapshot storage configuration.
type PhotosConfig struct {
	// Enabled toggles storing photos on failed unlock attempts.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Dir is the photo directory (empty = ~/.lockit/photos).
	Dir string `toml:"dir" json:"dir"`
}

// LedgerConfig contains attempt-record store configuration.
type LedgerConfig struct {
	// Path is the sqlite database file (empty = ~/.lockit/records.db).
	Path string `toml:"path" json:"path"`
}

// UIConfig holds pass-through presentation settings. The engine persists
// these for the UI process but attaches no behavior to them.
type UIConfig struct {
	Style         string `toml:"style" json:"style"`
	Language      string `toml:"language" json:"language"`
	LaunchAtLogin bool   `toml:"launch_at_login" json:"launch_at_login"`
	AutoUpdate    bool   `toml:"auto_update" json:"auto_update"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns a Config with sensible default values. The default
// schedule is empty: nothing locks until the owner configures slots.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Password: auth.PasswordConfig{
			Type: auth.TypeFixed,
		},

		Server: ServerConfig{
			BindAddr:           "127.0.0.1",
			Port:               48215,
			RateLimitPerMinute: 30,
			TickIntervalSecs:   1,
		},

		Audit: AuditConfig{
			Enabled:   true,
			MaxSizeMB: 10,
		},

		Photos: PhotosConfig{
			Enabled: true,
		},

		UI: UIConfig{
			Style:      "dark",
			Language:   "en",
			AutoUpdate: true,
		},
	}
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := util.AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the legacy JSON config file.
func PathJSON() (string, error) {
	dir, err := util.AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: The config holds the password hash and TOTP secret; it must be
// 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", info.Mode().Perm(), err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default locations. TOML is preferred,
// JSON is the legacy fallback, and missing files yield defaults.
func Load() (*Config, error) {
	tomlPath, err := PathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(tomlPath); statErr == nil {
		return LoadPath(tomlPath)
	}

	jsonPath, err := PathJSON()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(jsonPath); statErr == nil {
		return LoadPath(jsonPath)
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPath loads configuration from a specific file. The extension picks
// the format: .json decodes as JSON, everything else as TOML.
func LoadPath(path string) (*Config, error) {
	// SECURITY: fix permissions before reading; a world-readable config
	// leaks the credential material.
	if err := ensureSecurePermissions(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the given path atomically with 0600
// permissions. The format follows the extension, matching LoadPath.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	} else {
		var buf strings.Builder
		buf.WriteString("# lockit configuration file\n")
		buf.WriteString("# edit with care: the engine reloads this file on change\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = []byte(buf.String())
	}

	// RELIABILITY: Atomic write with fsync prevents a half-written config
	// from wiping the credentials on crash.
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Password.Type {
	case auth.TypeFixed, auth.TypeTOTP, auth.TypeBoth:
	default:
		errs = append(errs, ValidationError{
			Field:   "password.type",
			Message: fmt.Sprintf("invalid type %q, must be one of: fixed, totp, both", c.Password.Type),
		})
	}

	if err := c.Schedule.Validate(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "schedule",
			Message: err.Error(),
		})
	}

	// SECURITY: the engine is a local trust boundary, not a network
	// service. Refuse non-loopback bind addresses outright.
	if c.Server.BindAddr != "" && !isLoopback(c.Server.BindAddr) {
		errs = append(errs, ValidationError{
			Field:   "server.bind_addr",
			Message: fmt.Sprintf("must be a loopback address, got %q", c.Server.BindAddr),
		})
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 0-65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: "cannot be negative",
		})
	}
	if c.Server.TickIntervalSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.tick_interval_secs",
			Message: "cannot be negative",
		})
	}

	if c.Audit.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_size_mb",
			Message: "cannot be negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isLoopback(addr string) bool {
	return addr == "127.0.0.1" || addr == "::1" || addr == "localhost"
}

// setDefaults fills zero values left by a partial config file.
func (c *Config) setDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Password.Type == "" {
		c.Password.Type = defaults.Password.Type
	}
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = defaults.Server.BindAddr
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.TickIntervalSecs == 0 {
		c.Server.TickIntervalSecs = defaults.Server.TickIntervalSecs
	}
	if c.Audit.MaxSizeMB == 0 {
		c.Audit.MaxSizeMB = defaults.Audit.MaxSizeMB
	}
	if c.UI.Style == "" {
		c.UI.Style = defaults.UI.Style
	}
	if c.UI.Language == "" {
		c.UI.Language = defaults.UI.Language
	}
}

// AuditPath resolves the audit log path, applying the default location.
func (c *Config) AuditPath() (string, error) {
	if c.Audit.Path != "" {
		return c.Audit.Path, nil
	}
	dir, err := util.AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.log"), nil
}

// PhotosDir resolves the photo directory, applying the default location.
func (c *Config) PhotosDir() (string, error) {
	if c.Photos.Dir != "" {
		return c.Photos.Dir, nil
	}
	dir, err := util.AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "photos"), nil
}

// LedgerPath resolves the record database path, applying the default
// location.
func (c *Config) LedgerPath() (string, error) {
	if c.Ledger.Path != "" {
		return c.Ledger.Path, nil
	}
	dir, err := util.AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "records.db"), nil
}

// Clone creates a deep copy of the configuration. Slot slices are copied
// so mutating a clone never races with readers of the original.
func (c *Config) Clone() *Config {
	clone := *c
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := c.Schedule.Day(d)
		day.Slots = append([]schedule.TimeSlot(nil), day.Slots...)
		clone.Schedule.SetDay(d, day)
	}
	return &clone
}

// String returns a representation of the config for debugging.
// SECURITY: Redacts credential material so the config can never leak
// secrets through logs or error messages.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Password.FixedPassword != "" {
		safe.Password.FixedPassword = "[REDACTED]"
	}
	if safe.Password.TOTPSecret != "" {
		safe.Password.TOTPSecret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
