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

package power

import (
	"context"

	"github.com/powerframe/powerd/pkg/constants"
)

// handleSandman starts and stops dream sessions. It runs on the run-loop
// goroutine, coalesced to one outstanding run: the summoned flag is
// consumed up front, and because starting or stopping a dream is a slow
// external operation performed without the lock, every decision is
// re-validated against current state afterwards.
func (c *Coordinator) handleSandman(ctx context.Context) {
	c.mu.Lock()
	if !c.sandmanSummoned {
		c.mu.Unlock()
		return
	}
	c.sandmanSummoned = false

	wakefulness := c.Wakefulness()
	startDreaming := (wakefulness == WakefulnessDreaming && c.canDreamLocked()) ||
		(wakefulness == WakefulnessDozing && c.canDozeLocked())
	c.mu.Unlock()

	isDreaming := c.cfg.Dreams.IsDreaming()
	if startDreaming && !isDreaming {
		if err := c.cfg.Dreams.StartDream(ctx, wakefulness == WakefulnessDozing); err != nil {
			// Transient collaborator failure: the device simply proceeds to
			// sleep as if the dream had ended immediately.
			c.log.Warnf("failed to start dream session: %v", err)
		}
		isDreaming = c.cfg.Dreams.IsDreaming()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastObservedDreaming = isDreaming
	if startDreaming && isDreaming {
		c.batteryLevelWhenDreamStarted = c.batteryLevel
		c.log.Infof("dream session active (doze=%t, battery=%d%%)",
			wakefulness == WakefulnessDozing, c.batteryLevel)
	}

	// Preconditions may have shifted while the dream was starting.
	now := c.clock.Now()
	batteryDrained := false
	continueDreaming := false
	if isDreaming {
		switch c.Wakefulness() {
		case WakefulnessDozing:
			continueDreaming = true
		case WakefulnessDreaming:
			if c.canDreamLocked() {
				drain := c.batteryLevelWhenDreamStarted - c.batteryLevel
				if constants.DreamsBatteryLevelDrainCutoff >= 0 && !c.isPowered &&
					drain >= constants.DreamsBatteryLevelDrainCutoff {
					batteryDrained = true
					c.log.Warnf("dream cut short: battery drained %d%% since dream start", drain)
				} else {
					continueDreaming = true
				}
			}
		}
	}

	if isDreaming && !continueDreaming {
		c.mu.Unlock()
		if err := c.cfg.Dreams.StopDream(ctx); err != nil {
			c.log.Warnf("failed to stop dream session: %v", err)
		}
		c.mu.Lock()
		isDreaming = c.cfg.Dreams.IsDreaming()
		c.lastObservedDreaming = isDreaming
	}

	if isDreaming {
		return
	}

	switch c.Wakefulness() {
	case WakefulnessDozing:
		// The doze session is over; finish the journey to sleep.
		if c.reallyGoToSleepNoUpdateLocked(now) {
			c.updatePowerStateLocked(ctx)
		}
	case WakefulnessDreaming:
		reason := SleepReasonTimeout
		if batteryDrained {
			reason = SleepReasonBattery
		}
		if c.goToSleepNoUpdateLocked(now, reason) {
			// The battery override is a safety measure, not a normal
			// transition: it skips the doze session entirely.
			if batteryDrained {
				c.reallyGoToSleepNoUpdateLocked(now)
			}
			c.updatePowerStateLocked(ctx)
		}
	}
}

func (c *Coordinator) canDreamLocked() bool {
	s := c.settings
	if c.Wakefulness() != WakefulnessDreaming || !s.DreamsEnabled || !c.bootCompleted {
		return false
	}
	if !c.isPowered &&
		constants.DreamsBatteryLevelMinimumWhenNotPowered >= 0 &&
		c.batteryLevel < constants.DreamsBatteryLevelMinimumWhenNotPowered {
		return false
	}
	if c.isPowered &&
		constants.DreamsBatteryLevelMinimumWhenPowered >= 0 &&
		c.batteryLevel < constants.DreamsBatteryLevelMinimumWhenPowered {
		return false
	}
	return true
}

func (c *Coordinator) canDozeLocked() bool {
	return c.Wakefulness() == WakefulnessDozing
}
