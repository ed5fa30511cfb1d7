// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Runs the lock engine: config store, audit trail, ledger,
// photo store, quit-auth coordinator, controller, and the HTTP boundary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YanDao0313/lockit/internal/audit"
	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/camera"
	"github.com/YanDao0313/lockit/internal/config"
	"github.com/YanDao0313/lockit/internal/ledger"
	"github.com/YanDao0313/lockit/internal/lock"
	"github.com/YanDao0313/lockit/internal/quitauth"
	"github.com/YanDao0313/lockit/internal/server"
)

// HandleServe wires the engine together and runs it until interrupted.
func HandleServe(args []string) error {
	cfgPath, err := config.PathTOML()
	if err != nil {
		return err
	}

	store, err := config.OpenStore(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer store.Close()

	snapshot := store.Snapshot()

	// Audit trail.
	auditPath, err := snapshot.AuditPath()
	if err != nil {
		return err
	}
	trail, err := audit.New(auditPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer trail.Close()
	trail.SetEnabled(snapshot.Audit.Enabled)
	trail.SetMaxSize(snapshot.Audit.MaxSizeMB * 1024 * 1024)

	verifier := auth.NewVerifier()

	// Attempt ledger, gated on the live fixed password for clears.
	ledgerPath, err := snapshot.LedgerPath()
	if err != nil {
		return err
	}
	records, err := ledger.Open(ledgerPath, storeCheck{verifier, store},
		ledger.WithAuditLogger(trail))
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	// Quit-auth coordinator shares the verifier and live credentials.
	coord := quitauth.New(func(password string) (auth.Result, error) {
		return verifier.Verify(password, store.PasswordConfig(), time.Now())
	}, quitauth.WithAuditLogger(trail))

	ctrlOpts := []lock.Option{lock.WithAuditLogger(trail)}
	if snapshot.Photos.Enabled {
		photosDir, err := snapshot.PhotosDir()
		if err != nil {
			return err
		}
		photos, err := camera.NewStore(photosDir)
		if err != nil {
			return fmt.Errorf("failed to open photo store: %w", err)
		}
		ctrlOpts = append(ctrlOpts, lock.WithPhotoStore(photos))
	}

	ctrl := lock.New(store, verifier, records, coord, ctrlOpts...)

	// Reload schedule changes from external config edits.
	if err := store.Watch(); err != nil {
		log.Printf("CONFIG_WATCH_FAILED | %v (external edits require restart)", err)
	}
	store.OnChange(func(*config.Config) {
		_ = trail.LogEvent(audit.EventConfigReload, true, nil)
		ctrl.Tick(time.Now())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_ = trail.LogEvent(audit.EventStartup, true, map[string]string{"version": Version})

	// Tick loop.
	interval := time.Duration(snapshot.Server.TickIntervalSecs) * time.Second
	go ctrl.Run(ctx, interval)

	// HTTP boundary.
	srv := server.New(store, ctrl, records, coord, verifier)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = trail.LogEvent(audit.EventShutdown, false, map[string]string{"error": err.Error()})
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("SHUTDOWN_ERROR | %v", err)
	}

	_ = trail.LogEvent(audit.EventShutdown, true, nil)
	return nil
}

// storeCheck adapts the config store and verifier to the ledger's
// CredentialCheck port.
type storeCheck struct {
	verifier *auth.Verifier
	cfg      *config.Store
}

func (c storeCheck) VerifyFixed(password string) (bool, error) {
	return c.verifier.VerifyFixed(password, c.cfg.PasswordConfig())
}
