// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/schedule"
)

// =============================================================================
// LIVE CONFIG STORE
// =============================================================================

// Store holds the live configuration and serves consistent snapshots to
// the engine. The lock controller reads credentials and the schedule
// through it on every tick and unlock attempt; Update and the file
// watcher replace the snapshot atomically under the mutex.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	done     chan struct{}
	closeOne sync.Once
}

// NewStore wraps a loaded config. The path is where Update persists and
// what Watch observes.
func NewStore(cfg *Config, path string) *Store {
	return &Store{
		cfg:  cfg,
		path: path,
		done: make(chan struct{}),
	}
}

// OpenStore loads the config at path and wraps it in a Store. A missing
// file yields defaults, which the first Update will persist.
func OpenStore(path string) (*Store, error) {
	cfg, err := LoadPath(path)
	if err != nil {
		cfg = Default()
		if vErr := cfg.Validate(); vErr != nil {
			return nil, vErr
		}
	}
	return NewStore(cfg, path), nil
}

// Snapshot returns a deep copy of the current configuration.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// PasswordConfig returns the current credentials.
func (s *Store) PasswordConfig() auth.PasswordConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Password
}

// Schedule returns the current weekly schedule. The returned value is a
// copy; callers cannot mutate the live config through it.
func (s *Store) Schedule() *schedule.WeeklySchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws := s.cfg.Clone().Schedule
	return &ws
}

// Update applies mutate to a copy of the config, validates the result,
// persists it, and installs it as the live snapshot. On any error the
// previous config stays in effect.
func (s *Store) Update(mutate func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := Save(next, s.path); err != nil {
		return err
	}

	s.cfg = next
	s.notify(next)
	return nil
}

// OnChange registers a callback invoked with the new snapshot after every
// successful Update or watcher reload. Callbacks run on the mutating
// goroutine and must not call back into the store.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// notify is called with s.mu held.
func (s *Store) notify(cfg *Config) {
	for _, fn := range s.onChange {
		fn(cfg.Clone())
	}
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// watchDebounce coalesces the write bursts editors produce into a single
// reload.
const watchDebounce = 250 * time.Millisecond

// Watch starts watching the config file for external edits and reloads it
// on change. Invalid edits are ignored and the previous config stays in
// effect. Call Close to stop watching.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Atomic saves replace the file, which drops the watch on
			// some platforms. Re-arm it before reloading.
			_ = watcher.Add(s.path)
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}

		case <-reload:
			s.reloadFromDisk()

		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) reloadFromDisk() {
	cfg, err := LoadPath(s.path)
	if err != nil {
		// A torn or invalid edit must not take down the lock engine.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.notify(cfg)
}

// Close stops the file watcher. Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closeOne.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.mu.Unlock()
	})
	return err
}
