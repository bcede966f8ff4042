// Copyright 2025 Powerframe Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/powerframe/powerd/pkg/backoff"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/sentry"
)

const (
	// DefaultConfigPath is the default location of the settings file.
	DefaultConfigPath = "/data/powerd.yaml"
)

// ChangeListener is notified after a settings update has been persisted.
// Listeners run on the updating goroutine and must not call back into the
// Store.
type ChangeListener func(Settings)

// Store owns the settings document. It keeps an authoritative in-memory
// copy so the coordinator never blocks on disk mid-pass; the file is only
// touched on Load and on updates.
type Store struct {
	configPath string
	logger     *zap.SugaredLogger

	// mu guards the cached config and the listener list. Updates serialize
	// the read-modify-write cycle against the file under the same mutex so
	// two concurrent updates cannot interleave their writes.
	mu        sync.RWMutex
	loaded    bool
	config    FullConfig
	listeners []ChangeListener

	// backoffManager spaces out reload attempts when the file is broken.
	backoffManager *backoff.BackoffManager
}

// NewStore creates a Store for the given path. An empty path uses
// DefaultConfigPath.
func NewStore(configPath string) *Store {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	log := logger.For(logger.ComponentSettings)
	return &Store{
		configPath:     configPath,
		logger:         log,
		backoffManager: backoff.NewBackoffManager(backoff.DefaultConfig("SettingsStore", log)),
	}
}

// Load reads the settings file into memory, creating it with defaults when
// it does not exist. A file that exists but cannot be parsed is an error;
// silently replacing a corrupt file would destroy the user's settings.
func (s *Store) Load(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.configPath)
	if os.IsNotExist(err) {
		s.config = DefaultConfig()
		s.loaded = true
		if err := s.writeLocked(); err != nil {
			return fmt.Errorf("failed to write default settings: %w", err)
		}
		s.logger.Infof("created default settings at %s", s.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var cfg FullConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// A corrupt file stays corrupt; retrying cannot help.
		return backoff.NewPermanentError(
			fmt.Errorf("failed to parse settings file %s: %w", s.configPath, err))
	}
	// An empty document means a half-written or truncated file. Treat it as
	// an error so the caller retries instead of running with zero values.
	if reflect.DeepEqual(cfg, FullConfig{}) {
		return fmt.Errorf("settings file is empty: %s", s.configPath)
	}

	cfg.Settings.sanitize()
	if cfg.Daemon.APIAddr == "" {
		cfg.Daemon.APIAddr = DefaultConfig().Daemon.APIAddr
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = DefaultConfig().Daemon.MetricsAddr
	}

	s.config = cfg
	s.loaded = true
	s.logger.Infof("loaded settings from %s", s.configPath)
	return nil
}

// LoadWithRetry wraps Load in tick-based backoff for callers that poll.
func (s *Store) LoadWithRetry(ctx context.Context, tick uint64) error {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentSettings, "load", time.Since(start))
	}()

	if s.backoffManager.ShouldSkipOperation(tick) {
		if s.backoffManager.IsPermanentlyFailed() {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger,
				"settings store permanently failed, last error: %v", s.backoffManager.GetLastError())
		}
		return s.backoffManager.GetBackoffError(tick)
	}

	if err := s.Load(ctx); err != nil {
		s.backoffManager.SetError(err, tick)
		return err
	}
	s.backoffManager.Reset()
	return nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.config.Settings
	settings.StayOnWhilePluggedIn = append([]string(nil), settings.StayOnWhilePluggedIn...)
	return settings
}

// Daemon returns the deployment configuration.
func (s *Store) Daemon() Daemon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Daemon
}

// Update applies mutate to the settings atomically, sanitizes the result,
// persists it, and notifies listeners. The file on disk is always a
// sanitized document.
func (s *Store) Update(ctx context.Context, mutate func(*Settings)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return fmt.Errorf("settings store not loaded")
	}

	mutate(&s.config.Settings)
	s.config.Settings.sanitize()

	if err := s.writeLocked(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	updated := s.config.Settings
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(updated)
	}
	return nil
}

// OnChange registers a listener for settings updates.
func (s *Store) OnChange(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) writeLocked() error {
	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	// Write-then-rename keeps a crash from leaving a truncated file behind.
	tmp := s.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.configPath); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
