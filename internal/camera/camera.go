// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package camera persists intruder photos captured on failed unlock attempts.
package camera

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/YanDao0313/lockit/internal/util"
)

// PhotoStore is the port the lock controller writes photos through. The
// engine never talks to a capture device itself; the presentation layer
// captures a frame and hands the engine an opaque blob, which the store
// turns into a path reference for the unlock record.
type PhotoStore interface {
	SavePhoto(data []byte) (string, error)
}

// ErrEmptyPhoto is returned when the submitted photo blob is empty.
var ErrEmptyPhoto = errors.New("photo data is empty")

// =============================================================================
// FILESYSTEM STORE
// =============================================================================

// Store writes photo blobs as files under a base directory.
type Store struct {
	// BaseDir is the directory for stored photos.
	// Default: ~/.lockit/photos/
	BaseDir string
}

// NewStore creates a photo store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &Store{BaseDir: baseDir}, nil
}

// SavePhoto writes the blob atomically and returns its path. The blob is
// opaque to the engine; the presentation layer owns its encoding.
func (s *Store) SavePhoto(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPhoto
	}

	name := fmt.Sprintf("attempt_%s_%s.jpg",
		time.Now().Format("20060102_150405"), randomSuffix())
	path := filepath.Join(s.BaseDir, name)

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to save photo: %w", err)
	}
	return path, nil
}

// Remove deletes a stored photo. Removing an unknown path is a no-op so a
// deleted unlock record never fails over a missing attachment.
func (s *Store) Remove(path string) error {
	// Only paths inside the store are removable.
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.BaseDir)+string(filepath.Separator)) {
		return fmt.Errorf("photo path outside store: %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove photo: %w", err)
	}
	return nil
}

// List returns stored photo paths, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "attempt_") {
			continue
		}
		paths = append(paths, filepath.Join(s.BaseDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a time-derived suffix; uniqueness still holds per
		// second together with the timestamp prefix.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}
