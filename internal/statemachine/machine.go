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

// Package statemachine wraps looplab/fsm with the guard rails the power
// coordinator needs: a mutex around all state access, per-state enter
// callbacks, deadline protection for transitions, and an attached backoff
// manager so repeated transition failures degrade gracefully instead of
// spinning the reconciliation loop.
package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/backoff"
	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/sentry"
)

// Config holds parameters for building a Machine.
type Config struct {
	// ID names the machine in logs and backoff errors.
	ID string

	// InitialState is the state the machine starts in.
	InitialState string

	// Transitions is the closed set of allowed transitions. Any event not
	// listed for the current state is rejected by SendEvent.
	Transitions []fsm.EventDesc
}

// Machine is a mutex-guarded finite state machine. Transitions happen only
// through SendEvent; observers read the current state through Current.
type Machine struct {
	cfg Config

	mu sync.RWMutex

	fsm *fsm.FSM

	// Registered "enter_<state>" callbacks, for logging and side effects
	// that must run exactly when a state is entered.
	callbacks map[string]fsm.Callback

	// Tracks repeated transition failures and escalates to a permanent
	// failure when retries are exhausted.
	backoffManager *backoff.BackoffManager

	logger *zap.SugaredLogger
}

// New builds a Machine from cfg. The callback table starts empty; callers
// register enter callbacks before sending events.
func New(cfg Config, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	m.backoffManager = backoff.NewBackoffManager(backoff.DefaultConfig(cfg.ID, logger))

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(cfg.Transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	return m
}

// AddEnterCallback registers a callback invoked whenever the machine enters
// the given state. Only one callback per state; a second registration
// replaces the first.
func (m *Machine) AddEnterCallback(state string, callback fsm.Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks["enter_"+state] = callback
}

// Current returns the machine's current state.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Is reports whether the machine is in the given state.
func (m *Machine) Is(state string) bool {
	return m.Current() == state
}

// Can reports whether the named event is valid from the current state.
func (m *Machine) Can(eventName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(eventName)
}

// SetState forces the machine into a state without firing callbacks.
// Tests only.
func (m *Machine) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(state)
}

// SendEvent fires a transition and returns whether it was processed.
//
// A context that expires mid-transition leaves looplab/fsm with its internal
// transition flag set, after which every later event fails with "previous
// transition did not complete". To keep that failure mode out of the
// coordinator we refuse to start a transition at all when the context is
// already cancelled or has less lifetime left than the worst transition we
// expect to execute.
func (m *Machine) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < constants.ExpectedMaxP95ExecutionTimePerTransition {
			return fmt.Errorf("insufficient context lifetime for transition %q", eventName)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Event(ctx, eventName, args...)
}

// SetError records a transition failure for backoff purposes and returns
// true once the failure is considered permanent.
func (m *Machine) SetError(err error, tick uint64) bool {
	isPermanent := m.backoffManager.SetError(err, tick)
	if isPermanent {
		sentry.ReportIssuef(sentry.IssueTypeError, m.logger,
			"state machine %s has reached permanent failure: %v", m.cfg.ID, err)
	}
	return isPermanent
}

// ShouldSkipOperation reports whether the backoff window for the last error
// is still open at the given tick.
func (m *Machine) ShouldSkipOperation(tick uint64) bool {
	return m.backoffManager.ShouldSkipOperation(tick)
}

// GetBackoffError returns the structured temporary or permanent error for
// the current backoff state.
func (m *Machine) GetBackoffError(tick uint64) error {
	return m.backoffManager.GetBackoffError(tick)
}

// GetLastError returns the last recorded transition error.
func (m *Machine) GetLastError() error {
	return m.backoffManager.GetLastError()
}

// IsPermanentlyFailed reports whether retries have been exhausted.
func (m *Machine) IsPermanentlyFailed() bool {
	return m.backoffManager.IsPermanentlyFailed()
}

// ResetError clears the error state and backoff after a successful pass.
func (m *Machine) ResetError() {
	m.backoffManager.Reset()
}

// ID returns the machine's configured name.
func (m *Machine) ID() string {
	return m.cfg.ID
}
