// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// records.go - Manages the unlock attempt ledger from the command line.
//
// Command: records
// Aliases: ledger
//
// Examples:
//   lockit records list          List all unlock attempts
//   lockit records delete <id>   Delete a single record
//   lockit records clear         Clear all records (requires password)
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/config"
	"github.com/YanDao0313/lockit/internal/ledger"
)

// HandleRecords dispatches the records subcommands.
func HandleRecords(args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ledgerPath, err := cfg.LedgerPath()
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier()
	store, err := ledger.Open(ledgerPath, fixedCheck{verifier, cfg})
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	switch sub {
	case "list":
		return listRecords(ctx, store)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: lockit records delete <id>")
		}
		if err := store.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("✓ Record deleted"))
		return nil
	case "clear":
		password, err := promptPassword("Unlock password: ")
		if err != nil {
			return err
		}
		if err := store.ClearAll(ctx, password); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("✓ All records cleared"))
		return nil
	default:
		return fmt.Errorf("unknown records subcommand: %s", sub)
	}
}

func listRecords(ctx context.Context, store *ledger.Store) error {
	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(DimStyle.Render("No unlock attempts recorded."))
		return nil
	}

	fmt.Println(TitleStyle.Render(fmt.Sprintf("%d unlock attempts", len(records))))
	for _, rec := range records {
		outcome := ErrorStyle.Render("FAIL")
		if rec.Success {
			outcome = SuccessStyle.Render("OK  ")
		}
		line := fmt.Sprintf("%s  %s  attempt %d  %s",
			outcome,
			rec.Timestamp.Format(time.RFC3339),
			rec.AttemptCount,
			DimStyle.Render(rec.ID),
		)
		fmt.Println(line)
		if rec.PhotoPath != "" {
			fmt.Println(DimStyle.Render("      photo: " + rec.PhotoPath))
		}
		if rec.Error != "" {
			fmt.Println(WarningStyle.Render("      error: " + rec.Error))
		}
	}
	return nil
}

// fixedCheck verifies the fixed password against a static config load.
type fixedCheck struct {
	verifier *auth.Verifier
	cfg      *config.Config
}

func (c fixedCheck) VerifyFixed(password string) (bool, error) {
	return c.verifier.VerifyFixed(password, c.cfg.Password)
}
