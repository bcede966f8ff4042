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

package wakelock

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
)

// ErrUnknownHandle is returned when a release or update names a handle that
// is not in the table. Callers treat it as a no-op after reporting it; a
// double release must never crash the daemon or disturb other locks.
var ErrUnknownHandle = errors.New("wake lock handle not found")

// ErrOwnerMismatch is returned when a client re-acquires an existing handle
// with different owner identity. Handle reuse across clients is a protocol
// violation, not an update.
var ErrOwnerMismatch = errors.New("wake lock handle owned by a different client")

// IsLevelSupported reports whether a level can be honored on this device.
// Only the proximity level has a hardware dependency.
func IsLevelSupported(level Level, proximity platform.ProximitySensor) bool {
	if level == LevelProximityScreenOff {
		return proximity != nil && proximity.Available()
	}
	return true
}

// Table holds all live wake locks. All operations are safe for concurrent
// use; accounting and change callbacks run outside the table lock so they
// may call back into the table.
type Table struct {
	deaths     platform.DeathMonitor
	accounting Accounting
	log        *zap.SugaredLogger

	// onChanged is invoked after every net table mutation. The coordinator
	// uses it to mark its wake-lock state dirty and schedule a pass.
	onChanged func()

	mu    sync.Mutex
	locks map[Handle]*WakeLock
}

// NewTable creates an empty table. onChanged may be nil during tests that
// only exercise bookkeeping.
func NewTable(deaths platform.DeathMonitor, accounting Accounting, onChanged func()) *Table {
	if accounting == nil {
		accounting = NopAccounting{}
	}
	metrics.InitErrorCounter(metrics.ComponentWakeLockTable, "unknown_handle")
	return &Table{
		deaths:     deaths,
		accounting: accounting,
		log:        logger.For(logger.ComponentWakeLocks),
		onChanged:  onChanged,
		locks:      make(map[Handle]*WakeLock),
	}
}

// Acquire records a wake lock under the given handle. Re-acquiring an
// existing handle with identical properties is a no-op; with changed
// properties it is an update in place, which accounting observes as a
// release of the old lock followed by an acquire of the new one so
// attribution never double counts.
func (t *Table) Acquire(handle Handle, level Level, flags Flags, tag string, owner platform.ClientID, ws WorkSource) error {
	t.mu.Lock()

	existing, ok := t.locks[handle]
	if ok {
		if existing.Owner != owner {
			t.mu.Unlock()
			return fmt.Errorf("%w: handle %s", ErrOwnerMismatch, handle)
		}
		if existing.hasSameProperties(level, flags, tag, ws) {
			t.mu.Unlock()
			return nil
		}

		// Accounting sees value snapshots, never the live entry: a later
		// update of the same handle must not mutate what a collaborator is
		// still holding.
		old := *existing
		existing.Level = level
		existing.Flags = flags
		existing.Tag = tag
		existing.WorkSource = ws.Clone()
		updated := *existing
		t.updateMetricsLocked()
		t.mu.Unlock()

		t.log.Debugf("updating wake lock %s: %s -> %s", handle, old.Level, level)
		if old.notifiedAcquired {
			t.accounting.OnWakeLockReleased(&old)
			t.accounting.OnWakeLockAcquired(&updated)
		}
		t.changed()
		return nil
	}

	lock := &WakeLock{
		Handle:     handle,
		Level:      level,
		Flags:      flags,
		Tag:        tag,
		Owner:      owner,
		WorkSource: ws.Clone(),
	}
	if t.deaths != nil {
		unlink, err := t.deaths.Link(owner, func() {
			t.forceReleaseForOwner(owner)
		})
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to monitor wake lock owner %v: %w", owner, err)
		}
		lock.unlink = unlink
	}
	lock.notifiedAcquired = true
	t.locks[handle] = lock
	snapshot := *lock
	t.updateMetricsLocked()
	t.mu.Unlock()

	t.log.Debugf("acquired %s", lock)
	t.accounting.OnWakeLockAcquired(&snapshot)
	t.changed()
	return nil
}

// Release removes the lock and returns a snapshot of it so the caller can
// honor its release-time flags. An unknown handle returns ErrUnknownHandle
// with no other effect.
func (t *Table) Release(handle Handle) (WakeLock, error) {
	t.mu.Lock()
	lock, ok := t.locks[handle]
	if !ok {
		t.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
		metrics.IncErrorCountAndLog(metrics.ComponentWakeLockTable, "unknown_handle", err, t.log)
		return WakeLock{}, err
	}
	delete(t.locks, handle)
	t.updateMetricsLocked()
	snapshot := *lock
	t.mu.Unlock()

	if lock.unlink != nil {
		lock.unlink()
	}
	t.log.Debugf("released %s", lock)
	if snapshot.notifiedAcquired {
		t.accounting.OnWakeLockReleased(&snapshot)
	}
	t.changed()
	return snapshot, nil
}

// UpdateWorkSource replaces the attribution list of an existing lock.
// Accounting observes it as release-then-acquire, same as a property update.
func (t *Table) UpdateWorkSource(handle Handle, ws WorkSource) error {
	t.mu.Lock()
	lock, ok := t.locks[handle]
	if !ok {
		t.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
		metrics.IncErrorCountAndLog(metrics.ComponentWakeLockTable, "unknown_handle", err, t.log)
		return err
	}
	if lock.WorkSource.Equal(ws) {
		t.mu.Unlock()
		return nil
	}
	old := *lock
	lock.WorkSource = ws.Clone()
	updated := *lock
	t.mu.Unlock()

	if old.notifiedAcquired {
		t.accounting.OnWakeLockReleased(&old)
		t.accounting.OnWakeLockAcquired(&updated)
	}
	return nil
}

// forceReleaseForOwner drops every lock held by a dead client.
func (t *Table) forceReleaseForOwner(owner platform.ClientID) {
	t.mu.Lock()
	var dropped []*WakeLock
	for handle, lock := range t.locks {
		if lock.Owner == owner {
			delete(t.locks, handle)
			dropped = append(dropped, lock)
		}
	}
	if len(dropped) > 0 {
		t.updateMetricsLocked()
	}
	t.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	for _, lock := range dropped {
		if lock.unlink != nil {
			lock.unlink()
		}
		t.log.Infof("force-releasing %s: owner died", lock)
		if lock.notifiedAcquired {
			t.accounting.OnWakeLockReleased(lock)
		}
	}
	t.changed()
}

// Snapshot returns copies of every live lock, for summary computation and
// the status API.
func (t *Table) Snapshot() []WakeLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]WakeLock, 0, len(t.locks))
	for _, lock := range t.locks {
		copied := *lock
		copied.WorkSource = lock.WorkSource.Clone()
		out = append(out, copied)
	}
	return out
}

// Count returns the number of live locks.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func (t *Table) changed() {
	if t.onChanged != nil {
		t.onChanged()
	}
}

func (t *Table) updateMetricsLocked() {
	perLevel := make(map[Level]int)
	for _, lock := range t.locks {
		perLevel[lock.Level]++
	}
	for _, level := range []Level{
		LevelPartial, LevelFull, LevelScreenBright,
		LevelScreenDim, LevelProximityScreenOff, LevelDoze,
	} {
		metrics.SetWakeLocksHeld(level.String(), perLevel[level])
	}
}
