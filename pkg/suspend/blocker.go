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

// Package suspend implements named, reference-counted suspend blockers.
// A blocker vetoes full-system suspend while its count is positive. The
// coordinator and the display pipeline each acquire blockers from their own
// goroutines, so every operation is safe under concurrent use.
package suspend

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/sentry"
)

// Blocker is a named suspend veto. The underlying platform effect is active
// iff the reference count is positive; only the transition 0->1 acquires the
// platform blocker and only the transition 1->0 releases it.
type Blocker struct {
	name string
	hal  platform.PowerHAL
	log  *zap.SugaredLogger

	mu    sync.Mutex
	count int
}

// Acquire increments the reference count, activating the platform blocker on
// the first hold. A HAL failure is reported but does not abort the caller:
// the count still advances so Acquire/Release stay paired.
func (b *Blocker) Acquire() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.count == 1 {
		if err := b.hal.AcquireSuspendBlocker(context.Background(), b.name); err != nil {
			metrics.IncErrorCount(metrics.ComponentSuspendBlocker, b.name)
			sentry.ReportIssuef(sentry.IssueTypeError, b.log,
				"failed to acquire platform suspend blocker %q: %v", b.name, err)
		}
	}
	metrics.SetSuspendBlockerRefs(b.name, b.count)
}

// Release decrements the reference count, lifting the platform blocker when
// the last hold is dropped. Releasing an unheld blocker is a logic defect:
// it is reported loudly and the count is clamped to zero so a bug cannot
// leave the system unable to suspend.
func (b *Blocker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count--
	if b.count == 0 {
		if err := b.hal.ReleaseSuspendBlocker(context.Background(), b.name); err != nil {
			metrics.IncErrorCount(metrics.ComponentSuspendBlocker, b.name)
			sentry.ReportIssuef(sentry.IssueTypeError, b.log,
				"failed to release platform suspend blocker %q: %v", b.name, err)
		}
	} else if b.count < 0 {
		sentry.ReportIssuef(sentry.IssueTypeError, b.log,
			"suspend blocker %q released more times than acquired", b.name)
		b.count = 0
	}
	metrics.SetSuspendBlockerRefs(b.name, b.count)
}

// RefCount returns the current reference count.
func (b *Blocker) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsHeld reports whether the blocker currently vetoes suspend.
func (b *Blocker) IsHeld() bool {
	return b.RefCount() > 0
}

func (b *Blocker) String() string {
	return fmt.Sprintf("SuspendBlocker{%q, refs=%d}", b.name, b.RefCount())
}

// Guard is a single hold on a blocker. Release is idempotent, making Guard
// safe to use with defer even when the hold is also released explicitly.
type Guard struct {
	blocker *Blocker
	once    sync.Once
}

// Hold takes one reference and returns a Guard that gives it back.
func (b *Blocker) Hold() *Guard {
	b.Acquire()
	return &Guard{blocker: b}
}

// Release drops the guard's hold. Subsequent calls are no-ops.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.blocker.Release()
	})
}

// Registry hands out blockers by name, creating them on first use so both
// execution contexts resolve the same name to the same counter.
type Registry struct {
	hal platform.PowerHAL
	log *zap.SugaredLogger

	mu       sync.Mutex
	blockers map[string]*Blocker
}

// NewRegistry creates a Registry backed by the given HAL.
func NewRegistry(hal platform.PowerHAL) *Registry {
	return &Registry{
		hal:      hal,
		log:      logger.For(logger.ComponentSuspendBlocker),
		blockers: make(map[string]*Blocker),
	}
}

// Blocker returns the blocker with the given name, creating it if needed.
func (r *Registry) Blocker(name string) *Blocker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blockers[name]
	if !ok {
		b = &Blocker{name: name, hal: r.hal, log: r.log}
		r.blockers[name] = b
	}
	return b
}

// AssertAllReleased returns an error naming the first still-held blocker.
// Shutdown paths use this as the moral equivalent of a leak-detecting
// finalizer: a held blocker at teardown is a bug, not a cleanup task.
func (r *Registry) AssertAllReleased() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, b := range r.blockers {
		if b.IsHeld() {
			return fmt.Errorf("suspend blocker %q still held at shutdown (refs=%d)", name, b.RefCount())
		}
	}
	return nil
}
