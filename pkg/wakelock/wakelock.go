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

// Package wakelock implements the table of client-held wake locks. A wake
// lock is a request to keep some subset of {CPU, screen} active; the
// coordinator folds the table into a summary bitmask every reconciliation
// pass. Locks die with their owner: each entry is linked to a liveness
// monitor that force-releases it when the owning client terminates.
package wakelock

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/powerframe/powerd/pkg/platform"
)

// Level is the closed set of wake lock levels. Summary computation and
// policy derivation switch exhaustively over this type; adding a level is a
// compile-time-checked change.
type Level int

const (
	// LevelPartial keeps the CPU running regardless of display state.
	LevelPartial Level = iota
	// LevelFull keeps the CPU running and the screen bright.
	LevelFull
	// LevelScreenBright keeps the screen at full brightness.
	LevelScreenBright
	// LevelScreenDim keeps the screen on, possibly dimmed.
	LevelScreenDim
	// LevelProximityScreenOff turns the screen off when the proximity
	// sensor reports positive.
	LevelProximityScreenOff
	// LevelDoze keeps the device in the dozing state instead of falling
	// all the way asleep.
	LevelDoze
)

func (l Level) String() string {
	switch l {
	case LevelPartial:
		return "partial"
	case LevelFull:
		return "full"
	case LevelScreenBright:
		return "screen-bright"
	case LevelScreenDim:
		return "screen-dim"
	case LevelProximityScreenOff:
		return "proximity-screen-off"
	case LevelDoze:
		return "doze"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLevel maps the wire name of a level back to its value.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "partial":
		return LevelPartial, nil
	case "full":
		return LevelFull, nil
	case "screen-bright":
		return LevelScreenBright, nil
	case "screen-dim":
		return LevelScreenDim, nil
	case "proximity-screen-off":
		return LevelProximityScreenOff, nil
	case "doze":
		return LevelDoze, nil
	default:
		return 0, fmt.Errorf("unknown wake lock level %q", s)
	}
}

// AffectsScreen reports whether the level contributes screen state while
// the device is interactive.
func (l Level) AffectsScreen() bool {
	switch l {
	case LevelFull, LevelScreenBright, LevelScreenDim:
		return true
	case LevelPartial, LevelProximityScreenOff, LevelDoze:
		return false
	}
	return false
}

// Flags modify acquire/release behavior of a lock.
type Flags uint32

const (
	// FlagAcquireCausesWakeup wakes the device when a screen-affecting
	// lock is acquired, before the lock is recorded.
	FlagAcquireCausesWakeup Flags = 1 << iota
	// FlagOnAfterRelease fires a synthetic user-activity event when a
	// screen-affecting lock is released, keeping the screen on briefly.
	FlagOnAfterRelease
)

// ReleaseFlags modify a single release call.
type ReleaseFlags uint32

const (
	// ReleaseFlagWaitForNegativeProximity defers re-enabling the screen
	// until the proximity sensor reports negative.
	ReleaseFlagWaitForNegativeProximity ReleaseFlags = 1 << iota
)

// Handle identifies one lock per client; re-acquiring the same handle
// updates the existing entry in place.
type Handle string

// NewHandle returns a fresh opaque handle for in-process and HTTP clients.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// WorkSource attributes the lock's resource usage to the clients that asked
// for it, which may differ from the owner actually holding it.
type WorkSource []platform.ClientID

// Equal compares two work sources entry-wise.
func (ws WorkSource) Equal(other WorkSource) bool {
	if len(ws) != len(other) {
		return false
	}
	for i := range ws {
		if ws[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy so callers cannot mutate table state.
func (ws WorkSource) Clone() WorkSource {
	if ws == nil {
		return nil
	}
	out := make(WorkSource, len(ws))
	copy(out, ws)
	return out
}

// WakeLock is one live table entry.
type WakeLock struct {
	Handle     Handle
	Level      Level
	Flags      Flags
	Tag        string
	Owner      platform.ClientID
	WorkSource WorkSource

	// notifiedAcquired tracks whether the accounting collaborator has seen
	// this lock, guaranteeing exactly one release notification per acquire
	// notification.
	notifiedAcquired bool

	// unlink detaches the death monitor registration.
	unlink func()
}

func (w *WakeLock) String() string {
	return fmt.Sprintf("WakeLock{%s %q uid=%d pid=%d}", w.Level, w.Tag, w.Owner.UID, w.Owner.PID)
}

// hasSameProperties reports whether a re-acquire changes nothing.
func (w *WakeLock) hasSameProperties(level Level, flags Flags, tag string, ws WorkSource) bool {
	return w.Level == level && w.Flags == flags && w.Tag == tag && w.WorkSource.Equal(ws)
}

// Accounting receives exactly one notification per net state change of a
// lock, for battery/usage attribution.
type Accounting interface {
	OnWakeLockAcquired(lock *WakeLock)
	OnWakeLockReleased(lock *WakeLock)
}

// NopAccounting discards attribution events.
type NopAccounting struct{}

func (NopAccounting) OnWakeLockAcquired(*WakeLock) {}
func (NopAccounting) OnWakeLockReleased(*WakeLock) {}
