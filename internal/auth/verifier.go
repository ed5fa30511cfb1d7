// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements credential verification for the focus lock.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// Issuer is the issuer label embedded in otpauth provisioning URIs.
	Issuer = "LockIt"

	// DefaultDeviceName is used when no device name is supplied at TOTP setup.
	DefaultDeviceName = "lockit"

	// TOTPPeriod is the TOTP time step in seconds (RFC 6238 default).
	TOTPPeriod = 30

	// TOTPSkew is the number of adjacent time steps accepted on either side
	// of the current one, absorbing up to 30s of clock drift.
	TOTPSkew = 1

	// TOTPSecretSize is the raw secret length in bytes. 20 bytes gives the
	// 160 bits of entropy RFC 4226 recommends.
	TOTPSecretSize = 20

	// PBKDF2Iterations is the iteration count for hashed fixed passwords.
	PBKDF2Iterations = 120000

	// pbkdf2KeySize is the derived key length in bytes.
	pbkdf2KeySize = 32

	// pbkdf2SaltSize is the salt length in bytes.
	pbkdf2SaltSize = 16

	// hashPrefix marks a fixed password stored in derived form rather than
	// plaintext. Storage format: pbkdf2-sha256$<iter>$<hex salt>$<hex key>
	hashPrefix = "pbkdf2-sha256$"
)

// =============================================================================
// TYPES
// =============================================================================

// Method identifies which credential kind satisfied a verification.
type Method string

const (
	// MethodFixed indicates the configured fixed password matched.
	MethodFixed Method = "fixed"

	// MethodTOTP indicates a time-based one-time code matched.
	MethodTOTP Method = "totp"
)

// Type selects which credential kinds are accepted.
type Type string

const (
	// TypeFixed accepts only the fixed password.
	TypeFixed Type = "fixed"

	// TypeTOTP accepts only TOTP codes.
	TypeTOTP Type = "totp"

	// TypeBoth accepts either credential kind.
	TypeBoth Type = "both"
)

// PasswordConfig holds the owner's configured credentials.
//
// FixedPassword is either the plaintext secret (legacy configs) or its
// pbkdf2-sha256 storage form produced by HashPassword. TOTPSecret is a
// base32-encoded shared secret. Neither field may appear in audit output;
// the audit logger redacts them.
type PasswordConfig struct {
	Type           Type   `toml:"type" json:"type"`
	FixedPassword  string `toml:"fixed_password,omitempty" json:"fixed_password,omitempty"`
	TOTPSecret     string `toml:"totp_secret,omitempty" json:"totp_secret,omitempty"`
	TOTPDeviceName string `toml:"totp_device_name,omitempty" json:"totp_device_name,omitempty"`
}

// AcceptsFixed reports whether the configured type admits the fixed password.
func (c PasswordConfig) AcceptsFixed() bool {
	return c.Type == TypeFixed || c.Type == TypeBoth
}

// AcceptsTOTP reports whether the configured type admits TOTP codes.
func (c PasswordConfig) AcceptsTOTP() bool {
	return c.Type == TypeTOTP || c.Type == TypeBoth
}

// Result is the outcome of a verification attempt.
type Result struct {
	Success bool   `json:"success"`
	Method  Method `json:"method,omitempty"`
}

// ProvisionedSecret is a freshly generated TOTP enrollment. It is not
// persisted here; the caller stores it once the user confirms setup.
type ProvisionedSecret struct {
	Secret     string `json:"secret"`
	URL        string `json:"otpauth_url"`
	DeviceName string `json:"device_name"`
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrVerifyUnavailable indicates the configured method is missing its
	// secret. This is a setup bug, not a failed login, and is never folded
	// into a plain false result.
	ErrVerifyUnavailable = errors.New("verification unavailable: required secret not configured")

	// ErrBadSecret indicates a stored TOTP secret that the TOTP algorithm
	// rejects (e.g. invalid base32).
	ErrBadSecret = errors.New("verification unavailable: malformed TOTP secret")
)

// =============================================================================
// VERIFIER
// =============================================================================

// Verifier validates submitted secrets against a PasswordConfig. The zero
// value is ready to use; a Verifier carries no mutable state.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify checks a submitted secret against the configured credentials.
//
// The fixed password is checked first so a fixed match skips the TOTP time
// window computation. An empty submission always fails without consulting
// any secret. A missing secret for the configured type returns
// ErrVerifyUnavailable instead of a false result, with one relaxation:
// under "both" an unset fixed password only narrows verification to TOTP,
// since the TOTP secret is the one credential that type requires.
func (v *Verifier) Verify(submitted string, cfg PasswordConfig, now time.Time) (Result, error) {
	if submitted == "" {
		return Result{}, nil
	}

	if cfg.AcceptsFixed() {
		switch {
		case cfg.FixedPassword == "":
			if cfg.Type == TypeFixed {
				return Result{}, ErrVerifyUnavailable
			}
		case matchFixed(submitted, cfg.FixedPassword):
			return Result{Success: true, Method: MethodFixed}, nil
		}
	}

	if cfg.AcceptsTOTP() {
		if cfg.TOTPSecret == "" {
			return Result{}, ErrVerifyUnavailable
		}
		ok, err := validateTOTP(submitted, cfg.TOTPSecret, now)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Success: true, Method: MethodTOTP}, nil
		}
	}

	return Result{}, nil
}

// VerifyFixed checks a submitted secret against the fixed password only,
// regardless of the configured type. Destructive operations (clearing the
// attempt ledger) require the static secret known to the owner; a TOTP code
// is not accepted.
func (v *Verifier) VerifyFixed(submitted string, cfg PasswordConfig) (bool, error) {
	if submitted == "" {
		return false, nil
	}
	if cfg.FixedPassword == "" {
		return false, ErrVerifyUnavailable
	}
	return matchFixed(submitted, cfg.FixedPassword), nil
}

// validateTOTP checks a 6-digit code against the shared secret, accepting
// the current 30-second step and one step on either side.
func validateTOTP(code, secret string, now time.Time) (bool, error) {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSecret, err)
	}
	return ok, nil
}

// =============================================================================
// SECRET PROVISIONING
// =============================================================================

// GenerateSecret produces a new random TOTP secret and its otpauth
// provisioning URI. The secret is not persisted; the caller saves it to the
// config store after the user confirms enrollment.
func GenerateSecret(deviceName string) (ProvisionedSecret, error) {
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: deviceName,
		Period:      TOTPPeriod,
		SecretSize:  TOTPSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return ProvisionedSecret{}, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return ProvisionedSecret{
		Secret:     key.Secret(),
		URL:        key.URL(),
		DeviceName: deviceName,
	}, nil
}

// =============================================================================
// FIXED PASSWORD STORAGE
// =============================================================================

// HashPassword converts a plaintext password to its pbkdf2-sha256 storage
// form. Setup always writes this form; Verify still accepts plaintext for
// configs migrated from older installs.
func HashPassword(plain string) (string, error) {
	salt := make([]byte, pbkdf2SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(plain), salt, PBKDF2Iterations, pbkdf2KeySize, sha256.New)
	return fmt.Sprintf("%s%d$%s$%s",
		hashPrefix, PBKDF2Iterations,
		hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// matchFixed compares a submission against the stored fixed password using
// constant-time comparison in both the plaintext and hashed paths.
func matchFixed(submitted, stored string) bool {
	if strings.HasPrefix(stored, hashPrefix) {
		return matchHashed(submitted, stored)
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}

// matchHashed re-derives the key for a pbkdf2-sha256$iter$salt$key record.
// A malformed record never matches.
func matchHashed(submitted, stored string) bool {
	parts := strings.Split(strings.TrimPrefix(stored, hashPrefix), "$")
	if len(parts) != 3 {
		return false
	}

	iter, err := strconv.Atoi(parts[0])
	if err != nil || iter <= 0 {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(submitted), salt, iter, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
