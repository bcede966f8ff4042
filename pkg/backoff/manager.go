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

package backoff

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const (
	// TemporaryBackoffError marks errors that indicate an operation is
	// being skipped while the backoff period has not yet elapsed.
	TemporaryBackoffError = "temporary backoff error"
	// PermanentFailureError marks errors that indicate the operation has
	// failed more often than the configured retry budget allows.
	PermanentFailureError = "permanent failure error"
)

// Config holds the parameters for a BackoffManager.
type Config struct {
	ID string
	// TickInterval converts wall-clock backoff durations into ticks of the
	// caller's update loop.
	TickInterval time.Duration
	// InitialInterval and MaxInterval bound the exponential delay.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetries is the number of consecutive errors tolerated before the
	// failure is escalated to permanent.
	MaxRetries uint64
	Logger     *zap.SugaredLogger
}

// DefaultConfig returns a Config with the standard retry budget.
func DefaultConfig(id string, logger *zap.SugaredLogger) Config {
	return Config{
		ID:              id,
		TickInterval:    100 * time.Millisecond,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetries:      5,
		Logger:          logger,
	}
}

// BackoffManager tracks consecutive errors for one component and decides,
// per tick, whether the component should skip its work while waiting out an
// exponential backoff window. After MaxRetries consecutive errors the
// component is considered permanently failed.
type BackoffManager struct {
	cfg Config

	mu sync.Mutex

	expBackoff        *backoff.ExponentialBackOff
	lastError         error
	consecutiveErrors uint64
	skipUntilTick     uint64
	permanentlyFailed bool
}

// NewBackoffManager creates a BackoffManager from the given config.
func NewBackoffManager(cfg Config) *BackoffManager {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0 // retries are bounded by MaxRetries, not elapsed time
	eb.Reset()

	return &BackoffManager{
		cfg:        cfg,
		expBackoff: eb,
	}
}

// SetError records an error at the given tick and returns true if the
// manager has escalated to a permanent failure.
func (m *BackoffManager) SetError(err error, tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if IsPermanentError(err) {
		m.lastError = err
		m.permanentlyFailed = true
		return true
	}

	m.lastError = err
	m.consecutiveErrors++

	if m.consecutiveErrors > m.cfg.MaxRetries {
		m.permanentlyFailed = true
		if m.cfg.Logger != nil {
			m.cfg.Logger.Errorf("%s: %d consecutive errors, escalating to permanent failure: %v",
				m.cfg.ID, m.consecutiveErrors, err)
		}
		return true
	}

	delay := m.expBackoff.NextBackOff()
	ticks := uint64(delay / m.cfg.TickInterval)
	if ticks == 0 {
		ticks = 1
	}
	m.skipUntilTick = tick + ticks

	if m.cfg.Logger != nil {
		m.cfg.Logger.Debugf("%s: error %d/%d, backing off until tick %d: %v",
			m.cfg.ID, m.consecutiveErrors, m.cfg.MaxRetries, m.skipUntilTick, err)
	}
	return false
}

// ShouldSkipOperation returns true while the backoff window is open or the
// manager is permanently failed.
func (m *BackoffManager) ShouldSkipOperation(tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permanentlyFailed || tick < m.skipUntilTick
}

// GetBackoffError returns a structured error describing the current backoff
// state, or nil if no error is pending.
func (m *BackoffManager) GetBackoffError(tick uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastError == nil {
		return nil
	}
	if m.permanentlyFailed {
		return fmt.Errorf("%s for %s: %w", PermanentFailureError, m.cfg.ID, m.lastError)
	}
	if tick < m.skipUntilTick {
		return fmt.Errorf("%s for %s (until tick %d): %w",
			TemporaryBackoffError, m.cfg.ID, m.skipUntilTick, m.lastError)
	}
	return m.lastError
}

// GetLastError returns the most recent error, if any.
func (m *BackoffManager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// IsPermanentlyFailed returns true once the retry budget is exhausted.
func (m *BackoffManager) IsPermanentlyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permanentlyFailed
}

// Reset clears the error state and the exponential window after a success.
func (m *BackoffManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = nil
	m.consecutiveErrors = 0
	m.skipUntilTick = 0
	m.permanentlyFailed = false
	m.expBackoff.Reset()
}
