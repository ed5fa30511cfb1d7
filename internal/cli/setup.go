// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup.go - Credential setup wizard for lockit.
//
// Command: setup
// Aliases: init
//
// Examples:
//   lockit setup             Configure the fixed password
//   lockit setup --totp      Also enroll an authenticator app
//
// The wizard prompts for the unlock password without echo, stores only
// its pbkdf2-sha256 hash, and optionally provisions a TOTP secret whose
// otpauth URL is printed exactly once for enrollment.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/config"
)

// HandleSetup runs the setup wizard.
func HandleSetup(args []string) error {
	withTOTP := false
	for _, arg := range args {
		if arg == "--totp" {
			withTOTP = true
		}
	}

	fmt.Println(TitleStyle.Render("lockit setup"))

	cfgPath, err := config.PathTOML()
	if err != nil {
		return err
	}
	store, err := config.OpenStore(cfgPath)
	if err != nil {
		return err
	}

	password, err := promptPassword("Unlock password: ")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	// SECURITY: only the hash is persisted; the plaintext never touches
	// the config file.
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	var provisioned *auth.ProvisionedSecret
	if withTOTP {
		deviceName := promptLine("Device name [lockit]: ")
		if deviceName == "" {
			deviceName = "lockit"
		}
		secret, err := auth.GenerateSecret(deviceName)
		if err != nil {
			return err
		}
		provisioned = &secret
	}

	err = store.Update(func(c *config.Config) error {
		c.Password.FixedPassword = hashed
		if provisioned != nil {
			c.Password.TOTPSecret = provisioned.Secret
			c.Password.Type = auth.TypeBoth
		} else if c.Password.Type == "" {
			c.Password.Type = auth.TypeFixed
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println(SuccessStyle.Render("✓ Password configured"))
	if provisioned != nil {
		fmt.Println()
		fmt.Println(ValueStyle.Render("Add this secret to your authenticator app:"))
		fmt.Println(LabelStyle.Render("Secret:") + ValueStyle.Render(provisioned.Secret))
		fmt.Println(LabelStyle.Render("URL:") + ValueStyle.Render(provisioned.URL))
		fmt.Println()
		fmt.Println(WarningStyle.Render("This is shown once. It is not recoverable from the config."))
	}
	fmt.Println(DimStyle.Render("Config written to " + cfgPath))
	return nil
}

// promptPassword reads a password without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Print(LabelStyle.Render(prompt))
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passBytes), nil
}

// promptLine reads a plain line of input.
func promptLine(prompt string) string {
	fmt.Print(LabelStyle.Render(prompt))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}
