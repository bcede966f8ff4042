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

// Package power implements the wakefulness coordinator: the single owner of
// the device's awake/dreaming/dozing/asleep state. External events mark
// categories of state dirty; a reconciliation pass then recomputes power
// sources, wake-lock and user-activity summaries, the wakefulness state,
// dream scheduling, the display request, and finally the suspend-blocker
// accounting, in that fixed order. The ordering is load-bearing: later
// phases must see the settled wakefulness value, and blocker accounting runs
// last because dropping the final blocker may let the platform suspend.
package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/powerframe/powerd/internal/statemachine"
	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/sentry"
	"github.com/powerframe/powerd/pkg/suspend"
	"github.com/powerframe/powerd/pkg/wakelock"
)

const (
	blockerNameWakeLocks = "powerd.wakelocks"
	blockerNameDisplay   = "powerd.display"
)

// DisplayController is the coordinator's view of the display pipeline.
type DisplayController interface {
	// RequestPowerState hands over a copy of the request and reports whether
	// the display has already converged to it.
	RequestPowerState(req *display.Request, waitForNegativeProximity bool) bool
}

// Config wires the coordinator's collaborators.
type Config struct {
	HAL       platform.PowerHAL
	Battery   platform.BatteryProvider
	Dreams    platform.DreamController
	Deaths    platform.DeathMonitor
	Proximity platform.ProximitySensor

	Settings *config.Store
	Blockers *suspend.Registry
	Display  DisplayController

	Notifier   Notifier
	Accounting wakelock.Accounting
	Clock      Clock

	// TickInterval is the run loop's polling period. Zero selects the
	// default.
	TickInterval time.Duration

	// WakeOnPlugChange wakes the device when the charger is connected or
	// disconnected. Wireless chargers that bounce the plug state are
	// handled by disabling this rather than by debouncing.
	WakeOnPlugChange bool

	// BlockScreenOn keeps the pipeline's screen-on handshake open on every
	// off-to-on transition until the policy layer reports its first frame
	// drawn. Requires a ScreenOnListener on the display pipeline.
	BlockScreenOn bool
}

// Coordinator is the top-level reconciliation loop. All mutable state is
// guarded by mu; the run loop, public operations, and pipeline callbacks are
// the only entry points and each runs a full reconciliation pass before
// releasing the lock.
type Coordinator struct {
	cfg   Config
	log   *zap.SugaredLogger
	clock Clock

	locks   *wakelock.Table
	machine *statemachine.Machine

	wakeLockBlocker *suspend.Blocker
	displayBlocker  *suspend.Blocker

	// updateSignal and sandmanSignal coalesce wake-ups of the run loop;
	// capacity one, extra signals are dropped because one pending run
	// already covers them.
	updateSignal  chan struct{}
	sandmanSignal chan struct{}

	mu sync.Mutex

	// tick counts run-loop iterations and feeds the state machine's
	// backoff so repeated transition failures are spaced out.
	tick uint64

	dirty         dirtyFlags
	bootCompleted bool

	isPowered    bool
	plugType     platform.PlugType
	batteryLevel int
	stayOn       bool
	docked       bool
	lowPowerMode bool

	proximityPositive               bool
	requestWaitForNegativeProximity bool

	lastWakeTime                       time.Time
	lastSleepTime                      time.Time
	lastWakeReason                     WakeReason
	lastSleepReason                    SleepReason
	lastUserActivityTime               time.Time
	lastUserActivityTimeNoChangeLights time.Time

	wakeLockSummary         summaryFlags
	userActivitySummary     activityFlags
	nextUserActivityTimeout time.Time

	boostInProgress bool
	lastBoostTime   time.Time

	sandmanSummoned              bool
	batteryLevelWhenDreamStarted int
	lastObservedDreaming         bool

	displayRequest                   *display.Request
	displayReady                     bool
	notifyWakefulnessFinishedPending bool

	holdingWakeLockBlocker bool
	holdingDisplayBlocker  bool
	halInteractive         bool
	halInteractiveSet      bool
	halAutoSuspend         bool
	halAutoSuspendSet      bool

	settings config.Settings
}

// NewCoordinator builds a Coordinator. The device starts awake, matching
// the state the hardware is in when the daemon comes up.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = constants.CoordinatorTickInterval
	}

	c := &Coordinator{
		cfg:           cfg,
		log:           logger.For(logger.ComponentCoordinator),
		clock:         cfg.Clock,
		updateSignal:  make(chan struct{}, 1),
		sandmanSignal: make(chan struct{}, 1),
		settings:      cfg.Settings.Get(),
	}

	c.machine = statemachine.New(statemachine.Config{
		ID:           "wakefulness",
		InitialState: string(WakefulnessAwake),
		Transitions:  wakefulnessTransitions(),
	}, c.log)

	c.locks = wakelock.NewTable(cfg.Deaths, cfg.Accounting, func() {
		c.markDirtyAndSignal(dirtyWakeLocks)
	})

	c.wakeLockBlocker = cfg.Blockers.Blocker(blockerNameWakeLocks)
	c.displayBlocker = cfg.Blockers.Blocker(blockerNameDisplay)

	cfg.Settings.OnChange(func(s config.Settings) {
		c.mu.Lock()
		c.settings = s
		c.dirty |= dirtySettings
		c.mu.Unlock()
		c.signalUpdate()
	})

	now := c.clock.Now()
	c.lastWakeTime = now
	c.lastUserActivityTime = now
	c.batteryLevel = cfg.Battery.BatteryLevel()
	metrics.SetWakefulness(WakefulnessAwake.MetricValue())

	return c
}

// Run drives the coordinator until ctx is cancelled. Timer expiry, battery
// polling, and dream-session termination are all tick-driven; everything
// else arrives through the signal channels.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.log.Infof("power coordinator running (tick=%s)", c.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.handleTick(ctx)
		case <-c.updateSignal:
			c.mu.Lock()
			c.updatePowerStateLocked(ctx)
			c.mu.Unlock()
		case <-c.sandmanSignal:
			c.handleSandman(ctx)
		}
	}
}

// Wakefulness returns the current wakefulness state.
func (c *Coordinator) Wakefulness() Wakefulness {
	return Wakefulness(c.machine.Current())
}

// BootCompleted marks the end of boot. Before this, user activity and
// wake/sleep requests are rejected and the display policy is forced bright.
func (c *Coordinator) BootCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bootCompleted {
		return
	}
	c.log.Infof("boot completed")
	c.bootCompleted = true
	c.dirty |= dirtyBootCompleted

	now := c.clock.Now()
	c.lastUserActivityTime = now
	c.dirty |= dirtyUserActivity

	c.updatePowerStateLocked(context.Background())
}

// AcquireWakeLock records a wake lock. The acquire-causes-wakeup flag on a
// screen-affecting level wakes the device before the lock is recorded.
func (c *Coordinator) AcquireWakeLock(handle wakelock.Handle, level wakelock.Level, flags wakelock.Flags, tag string, owner platform.ClientID, ws wakelock.WorkSource) error {
	if !wakelock.IsLevelSupported(level, c.cfg.Proximity) {
		return fmt.Errorf("wake lock level %s not supported on this device", level)
	}

	if flags&wakelock.FlagAcquireCausesWakeup != 0 && level.AffectsScreen() {
		c.mu.Lock()
		if c.wakeUpNoUpdateLocked(c.clock.Now(), WakeReasonWakeLock) {
			c.updatePowerStateLocked(context.Background())
		}
		c.mu.Unlock()
	}

	if err := c.locks.Acquire(handle, level, flags, tag, owner, ws); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty |= dirtyWakeLocks
	c.updatePowerStateLocked(context.Background())
	c.mu.Unlock()
	return nil
}

// ReleaseWakeLock drops a wake lock. Unknown handles are a caller error and
// change nothing. The wait-for-negative-proximity release flag defers
// re-enabling the screen until the sensor reports clear; the lock's own
// on-after-release flag fires a no-change-lights user activity.
func (c *Coordinator) ReleaseWakeLock(handle wakelock.Handle, flags wakelock.ReleaseFlags) error {
	released, err := c.locks.Release(handle)
	if err != nil {
		c.log.Warnf("release of unknown wake lock handle ignored: %v", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if flags&wakelock.ReleaseFlagWaitForNegativeProximity != 0 &&
		released.Level == wakelock.LevelProximityScreenOff {
		c.requestWaitForNegativeProximity = true
	}
	if released.Flags&wakelock.FlagOnAfterRelease != 0 && released.Level.AffectsScreen() {
		c.userActivityNoUpdateLocked(c.clock.Now(), true)
	}

	c.dirty |= dirtyWakeLocks
	c.updatePowerStateLocked(context.Background())
	return nil
}

// UpdateWakeLockWorkSource replaces a lock's attribution list.
func (c *Coordinator) UpdateWakeLockWorkSource(handle wakelock.Handle, ws wakelock.WorkSource) error {
	return c.locks.UpdateWorkSource(handle, ws)
}

// WakeLocks returns a snapshot of the live wake locks.
func (c *Coordinator) WakeLocks() []wakelock.WakeLock {
	return c.locks.Snapshot()
}

// UserActivity extends the screen timeout. With noChangeLights the activity
// refreshes the timer without brightening an already-dim screen.
func (c *Coordinator) UserActivity(eventTime time.Time, noChangeLights bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userActivityNoUpdateLocked(eventTime, noChangeLights) {
		c.updatePowerStateLocked(context.Background())
	}
}

// Wakeup transitions the device to awake. Stale events, identified by a
// timestamp before the last sleep transition, are dropped silently.
func (c *Coordinator) Wakeup(eventTime time.Time, reason WakeReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wakeUpNoUpdateLocked(eventTime, reason) {
		c.updatePowerStateLocked(context.Background())
	}
}

// GoToSleep puts the device to sleep. The device always passes through
// dozing; it reaches asleep once the doze session reports inactive.
func (c *Coordinator) GoToSleep(eventTime time.Time, reason SleepReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.goToSleepNoUpdateLocked(eventTime, reason) {
		c.updatePowerStateLocked(context.Background())
	}
}

// Nap starts a dream session if policy allows.
func (c *Coordinator) Nap(eventTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.napNoUpdateLocked(eventTime) {
		c.updatePowerStateLocked(context.Background())
	}
}

// BoostScreenBrightness drives the screen to maximum brightness for a fixed
// duration.
func (c *Coordinator) BoostScreenBrightness(eventTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bootCompleted || !c.Wakefulness().IsInteractive() {
		return
	}
	c.boostInProgress = true
	c.lastBoostTime = eventTime
	c.userActivityNoUpdateLocked(eventTime, false)
	c.dirty |= dirtyUserActivity
	c.updatePowerStateLocked(context.Background())
}

// SetDocked reports dock state; docking counts as user activity and feeds
// the dream-on-dock policy.
func (c *Coordinator) SetDocked(docked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.docked == docked {
		return
	}
	c.docked = docked
	c.dirty |= dirtyDock
	c.userActivityNoUpdateLocked(c.clock.Now(), false)
	c.updatePowerStateLocked(context.Background())
}

// SetLowPowerMode toggles battery-saver brightness scaling.
func (c *Coordinator) SetLowPowerMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lowPowerMode == enabled {
		return
	}
	c.lowPowerMode = enabled
	c.dirty |= dirtySettings
	c.updatePowerStateLocked(context.Background())
}

// OnStateChanged implements display.Callbacks: the pipeline's readiness may
// have changed, re-issue the request on the run loop.
func (c *Coordinator) OnStateChanged() {
	c.markDirtyAndSignal(dirtyDisplayReady)
}

// OnProximityPositive implements display.Callbacks.
func (c *Coordinator) OnProximityPositive() {
	c.mu.Lock()
	c.proximityPositive = true
	c.dirty |= dirtyProximityPositive
	c.mu.Unlock()
	c.signalUpdate()
}

// OnProximityNegative implements display.Callbacks. Returning to negative
// proximity fires a synthetic user activity so the screen re-evaluates to
// its requested policy.
func (c *Coordinator) OnProximityNegative() {
	c.mu.Lock()
	c.proximityPositive = false
	c.dirty |= dirtyProximityPositive
	c.userActivityNoUpdateLocked(c.clock.Now(), false)
	c.mu.Unlock()
	c.signalUpdate()
}

func (c *Coordinator) markDirtyAndSignal(flags dirtyFlags) {
	c.mu.Lock()
	c.dirty |= flags
	c.mu.Unlock()
	c.signalUpdate()
}

func (c *Coordinator) signalUpdate() {
	select {
	case c.updateSignal <- struct{}{}:
	default:
	}
}

// handleTick evaluates everything that is time- or poll-driven: the user
// activity timeout, boost expiry, battery changes, and dream-session
// termination.
func (c *Coordinator) handleTick(ctx context.Context) {
	now := c.clock.Now()

	c.mu.Lock()
	c.tick++
	changed := false

	if !c.nextUserActivityTimeout.IsZero() && !now.Before(c.nextUserActivityTimeout) {
		c.dirty |= dirtyUserActivity
		changed = true
	}
	if c.boostInProgress && !now.Before(c.lastBoostTime.Add(constants.ScreenBrightnessBoostDuration)) {
		c.boostInProgress = false
		c.dirty |= dirtyUserActivity
		changed = true
	}

	powered := c.cfg.Battery.IsPowered(platform.PlugAny)
	plug := c.cfg.Battery.PlugType()
	level := c.cfg.Battery.BatteryLevel()
	if powered != c.isPowered || plug != c.plugType {
		c.dirty |= dirtyIsPowered
		changed = true
	} else if level != c.batteryLevel {
		c.batteryLevel = level
		c.dirty |= dirtyBattery
		changed = true
	}

	dreaming := c.cfg.Dreams.IsDreaming()
	if dreaming != c.lastObservedDreaming {
		c.lastObservedDreaming = dreaming
		c.summonSandmanLocked()
		changed = true
	}

	if changed {
		c.updatePowerStateLocked(ctx)
	}
	c.mu.Unlock()
}

// updatePowerStateLocked is the reconciliation pass. Callers hold mu.
func (c *Coordinator) updatePowerStateLocked(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(metrics.ComponentCoordinator, "update_power_state", time.Since(start))
	}()

	now := c.clock.Now()

	// Phase 0: power source and stay-on flags.
	c.updateIsPoweredLocked(now)
	c.updateStayOnLocked()

	// Phase 1: summaries and wakefulness, looped until no transition fires.
	// Each iteration either settles or moves the state machine strictly
	// toward sleep, so the loop is bounded by the state-space size.
	for i := 0; ; i++ {
		if i > 4 {
			sentry.ReportIssuef(sentry.IssueTypeError, c.log,
				"wakefulness did not settle after %d iterations (state=%s dirty=%s)",
				i, c.Wakefulness(), c.dirty)
			break
		}
		c.updateWakeLockSummaryLocked()
		c.updateUserActivitySummaryLocked(now)
		if !c.updateWakefulnessLocked(now) {
			break
		}
	}

	// Phase 2: dream scheduling.
	c.updateDreamLocked()

	// Phase 3: display request derivation.
	ready := c.updateDisplayPowerStateLocked()

	// Phase 4: notification flush once the display has converged.
	if ready {
		c.flushPendingNotificationsLocked()
	}

	// Phase 5: suspend-blocker accounting. Must be last; releasing the
	// final blocker may allow the platform to suspend immediately.
	c.updateSuspendBlockersLocked(ctx)

	c.dirty = 0
}

func (c *Coordinator) updateIsPoweredLocked(now time.Time) {
	wasPowered := c.isPowered
	oldPlug := c.plugType

	c.isPowered = c.cfg.Battery.IsPowered(platform.PlugAny)
	c.plugType = c.cfg.Battery.PlugType()
	c.batteryLevel = c.cfg.Battery.BatteryLevel()

	if wasPowered != c.isPowered || oldPlug != c.plugType {
		c.dirty |= dirtyIsPowered
		c.log.Infof("power source changed: powered=%t plug=%s level=%d%%",
			c.isPowered, c.plugType, c.batteryLevel)

		// Plugging or unplugging counts as user activity.
		c.userActivityNoUpdateLocked(now, false)

		if c.shouldWakeUpWhenPluggedOrUnpluggedLocked(wasPowered) {
			c.wakeUpNoUpdateLocked(now, WakeReasonPlug)
		}
	}
}

func (c *Coordinator) shouldWakeUpWhenPluggedOrUnpluggedLocked(wasPowered bool) bool {
	if !c.cfg.WakeOnPlugChange || !c.bootCompleted {
		return false
	}
	// A dream already has the screen on; waking would only interrupt it.
	if !wasPowered && c.isPowered && c.Wakefulness() == WakefulnessDreaming {
		return false
	}
	return true
}

func (c *Coordinator) updateStayOnLocked() {
	mask := c.settings.StayOnPlugMask()
	stayOn := mask != 0 && c.cfg.Battery.IsPowered(mask)
	if stayOn != c.stayOn {
		c.stayOn = stayOn
		c.dirty |= dirtyStayOn
	}
}

// updateWakeLockSummaryLocked folds the table into the summary bitmask,
// then filters by wakefulness: asleep and dozing drop all screen
// contributions, asleep also drops proximity, and the doze bit only counts
// while dozing. Only a partial lock holds the CPU on its own; a full lock
// contributes through its screen bit, so outside the interactive states it
// contributes nothing at all and cannot veto suspend.
func (c *Coordinator) updateWakeLockSummaryLocked() {
	var summary summaryFlags
	for _, l := range c.locks.Snapshot() {
		switch l.Level {
		case wakelock.LevelPartial:
			summary |= summaryCPU
		case wakelock.LevelFull:
			summary |= summaryScreenBright
		case wakelock.LevelScreenBright:
			summary |= summaryScreenBright
		case wakelock.LevelScreenDim:
			summary |= summaryScreenDim
		case wakelock.LevelProximityScreenOff:
			summary |= summaryProximityScreenOff
		case wakelock.LevelDoze:
			summary |= summaryDoze
		}
	}

	w := c.Wakefulness()
	if w == WakefulnessAsleep || w == WakefulnessDozing {
		summary &^= summaryScreenBright | summaryScreenDim
		if w == WakefulnessAsleep {
			summary &^= summaryProximityScreenOff
		}
	}
	if w != WakefulnessDozing {
		summary &^= summaryDoze
	}
	if summary&(summaryScreenBright|summaryScreenDim) != 0 && w.IsInteractive() {
		summary |= summaryCPU
	}

	c.wakeLockSummary = summary
}

// updateUserActivitySummaryLocked derives the bright/dim phase of the
// screen timeout and the instant at which the phase next changes.
func (c *Coordinator) updateUserActivitySummaryLocked(now time.Time) {
	var summary activityFlags
	var nextTimeout time.Time

	w := c.Wakefulness()
	if w != WakefulnessAsleep {
		timeout := c.settings.ScreenOffTimeout
		dim := c.settings.DimDuration()

		if !c.lastUserActivityTime.IsZero() && !c.lastUserActivityTime.Before(c.lastWakeTime) {
			nextTimeout = c.lastUserActivityTime.Add(timeout - dim)
			if now.Before(nextTimeout) {
				summary = activityBright
			} else {
				nextTimeout = c.lastUserActivityTime.Add(timeout)
				if now.Before(nextTimeout) {
					summary = activityDim
				}
			}
		}

		// No-change-lights activity extends the timer without resetting an
		// already-dim screen back to bright.
		if summary == 0 && !c.lastUserActivityTimeNoChangeLights.IsZero() &&
			!c.lastUserActivityTimeNoChangeLights.Before(c.lastWakeTime) {
			t := c.lastUserActivityTimeNoChangeLights.Add(timeout)
			if now.Before(t) && c.displayRequest != nil {
				switch c.displayRequest.Policy {
				case display.PolicyBright, display.PolicyVR:
					summary = activityBright
					nextTimeout = t
				case display.PolicyDim:
					summary = activityDim
					nextTimeout = t
				}
			}
		}

		if summary == 0 && w == WakefulnessDozing {
			summary = activityDream
			nextTimeout = time.Time{}
		}
	}

	c.userActivitySummary = summary
	c.nextUserActivityTimeout = nextTimeout
}

// updateWakefulnessLocked puts the device to bed when nothing keeps it
// awake. Returns true if a transition happened, so the caller re-runs the
// summary phases against the new state.
func (c *Coordinator) updateWakefulnessLocked(now time.Time) bool {
	if c.Wakefulness() != WakefulnessAwake || !c.isItBedTimeYetLocked() {
		return false
	}
	if c.shouldNapAtBedTimeLocked() {
		return c.napNoUpdateLocked(now)
	}
	return c.goToSleepNoUpdateLocked(now, SleepReasonTimeout)
}

func (c *Coordinator) isItBedTimeYetLocked() bool {
	keptAwake := c.stayOn ||
		c.proximityPositive ||
		c.boostInProgress ||
		c.wakeLockSummary&(summaryScreenBright|summaryScreenDim) != 0 ||
		c.userActivitySummary&(activityBright|activityDim) != 0
	return !keptAwake
}

func (c *Coordinator) shouldNapAtBedTimeLocked() bool {
	s := c.settings
	return s.DreamsEnabled &&
		(s.DreamsActivateOnSleep || (s.DreamsActivateOnDock && c.docked))
}

// wakeUpNoUpdateLocked performs the wake transition without running a pass.
func (c *Coordinator) wakeUpNoUpdateLocked(eventTime time.Time, reason WakeReason) bool {
	if !c.bootCompleted {
		return false
	}
	// Stale event: a wake request older than the last sleep transition lost
	// the race and is dropped.
	if eventTime.Before(c.lastSleepTime) {
		return false
	}
	if c.Wakefulness() == WakefulnessAwake {
		return false
	}

	c.log.Infof("waking up (reason=%s)", reason)
	if !c.setWakefulnessLocked(eventWake, WakefulnessAwake) {
		return false
	}
	c.lastWakeTime = eventTime
	c.lastWakeReason = reason
	c.userActivityNoUpdateLocked(eventTime, false)
	return true
}

func (c *Coordinator) goToSleepNoUpdateLocked(eventTime time.Time, reason SleepReason) bool {
	if !c.bootCompleted {
		return false
	}
	if eventTime.Before(c.lastWakeTime) {
		return false
	}
	w := c.Wakefulness()
	if w == WakefulnessDozing || w == WakefulnessAsleep {
		return false
	}

	c.log.Infof("going to sleep (reason=%s)", reason)
	if !c.setWakefulnessLocked(eventGoToSleep, WakefulnessDozing) {
		return false
	}
	c.lastSleepTime = eventTime
	c.lastSleepReason = reason
	c.summonSandmanLocked()
	return true
}

func (c *Coordinator) napNoUpdateLocked(eventTime time.Time) bool {
	if !c.bootCompleted {
		return false
	}
	if eventTime.Before(c.lastWakeTime) {
		return false
	}
	if c.Wakefulness() != WakefulnessAwake {
		return false
	}

	c.log.Infof("napping")
	if !c.setWakefulnessLocked(eventNap, WakefulnessDreaming) {
		return false
	}
	c.summonSandmanLocked()
	return true
}

func (c *Coordinator) reallyGoToSleepNoUpdateLocked(eventTime time.Time) bool {
	if eventTime.Before(c.lastWakeTime) {
		return false
	}
	if c.Wakefulness() != WakefulnessDozing {
		return false
	}

	c.log.Infof("sleeping fully (reason=%s)", c.lastSleepReason)
	return c.setWakefulnessLocked(eventReallyGoToSleep, WakefulnessAsleep)
}

// setWakefulnessLocked fires the transition. The callers guard against
// invalid moves, so a rejection here means the machine itself is unhealthy;
// repeated rejections open a backoff window and eventually escalate to a
// permanent failure with a sentry report.
func (c *Coordinator) setWakefulnessLocked(event string, target Wakefulness) bool {
	if c.machine.ShouldSkipOperation(c.tick) {
		c.log.Debugf("wakefulness transition %s suppressed: %v",
			event, c.machine.GetBackoffError(c.tick))
		return false
	}
	if err := c.machine.SendEvent(context.Background(), event); err != nil {
		c.log.Warnf("wakefulness transition %s rejected in state %s: %v",
			event, c.machine.Current(), err)
		c.machine.SetError(err, c.tick)
		return false
	}
	c.machine.ResetError()
	c.dirty |= dirtyWakefulness
	c.notifyWakefulnessFinishedPending = true
	c.cfg.Notifier.OnWakefulnessChangeStarted(target)
	metrics.SetWakefulness(target.MetricValue())
	return true
}

func (c *Coordinator) userActivityNoUpdateLocked(eventTime time.Time, noChangeLights bool) bool {
	if !c.bootCompleted {
		return false
	}
	if eventTime.Before(c.lastSleepTime) || eventTime.Before(c.lastWakeTime) {
		return false
	}

	c.cfg.Notifier.OnUserActivity(eventTime)

	if noChangeLights {
		if eventTime.After(c.lastUserActivityTimeNoChangeLights) {
			c.lastUserActivityTimeNoChangeLights = eventTime
			c.dirty |= dirtyUserActivity
			return true
		}
		return false
	}
	if eventTime.After(c.lastUserActivityTime) {
		c.lastUserActivityTime = eventTime
		c.dirty |= dirtyUserActivity
		return true
	}
	return false
}

// updateDreamLocked summons the sandman when anything it cares about moved.
func (c *Coordinator) updateDreamLocked() {
	const sandmanBits = dirtyWakefulness | dirtyUserActivity | dirtyWakeLocks |
		dirtyBootCompleted | dirtySettings | dirtyIsPowered | dirtyStayOn |
		dirtyBattery | dirtyProximityPositive | dirtyDock
	if c.dirty&sandmanBits != 0 {
		c.summonSandmanLocked()
	}
}

func (c *Coordinator) summonSandmanLocked() {
	c.sandmanSummoned = true
	select {
	case c.sandmanSignal <- struct{}{}:
	default:
	}
}

// updateDisplayPowerStateLocked derives the display request and hands it to
// the pipeline. The consumed wait-for-negative-proximity flag is cleared on
// hand-off, per the release-flag contract.
func (c *Coordinator) updateDisplayPowerStateLocked() bool {
	req := display.NewRequest()
	req.Policy = c.desiredScreenPolicyLocked()
	req.UseProximitySensor = c.wakeLockSummary&summaryProximityScreenOff != 0
	req.UseAutoBrightness = c.settings.BrightnessMode == config.BrightnessModeAutomatic && c.bootCompleted
	req.AutoBrightnessAdjustment = c.settings.AutoBrightnessAdjustment
	req.BoostScreenBrightness = c.boostInProgress
	req.LowPowerMode = c.lowPowerMode
	req.BlockScreenOn = c.cfg.BlockScreenOn

	waitProx := c.requestWaitForNegativeProximity
	c.requestWaitForNegativeProximity = false

	c.displayRequest = req
	c.displayReady = c.cfg.Display.RequestPowerState(req, waitProx)
	return c.displayReady
}

func (c *Coordinator) desiredScreenPolicyLocked() display.Policy {
	switch c.Wakefulness() {
	case WakefulnessAsleep:
		return display.PolicyOff
	case WakefulnessDozing:
		if c.wakeLockSummary&summaryDoze != 0 {
			return display.PolicyDoze
		}
		return display.PolicyOff
	default:
		if !c.bootCompleted ||
			c.boostInProgress ||
			c.wakeLockSummary&summaryScreenBright != 0 ||
			c.userActivitySummary&activityBright != 0 {
			return display.PolicyBright
		}
		return display.PolicyDim
	}
}

func (c *Coordinator) flushPendingNotificationsLocked() {
	if c.notifyWakefulnessFinishedPending {
		c.notifyWakefulnessFinishedPending = false
		c.cfg.Notifier.OnWakefulnessChangeFinished(c.Wakefulness())
	}
}

// updateSuspendBlockersLocked reconciles the two blockers and the HAL's
// interactive and autosuspend modes. New blockers are acquired before stale
// ones are released so coverage never gaps.
func (c *Coordinator) updateSuspendBlockersLocked(ctx context.Context) {
	needWakeLock := c.wakeLockSummary&summaryCPU != 0
	needDisplay := !c.displayReady ||
		(c.displayRequest != nil && c.displayRequest.IsBrightOrDim() &&
			!(c.displayRequest.UseProximitySensor && c.proximityPositive))

	if needWakeLock && !c.holdingWakeLockBlocker {
		c.wakeLockBlocker.Acquire()
		c.holdingWakeLockBlocker = true
	}
	if needDisplay && !c.holdingDisplayBlocker {
		c.displayBlocker.Acquire()
		c.holdingDisplayBlocker = true
	}

	interactive := c.Wakefulness().IsInteractive()
	if !c.halInteractiveSet || interactive != c.halInteractive {
		if err := c.cfg.HAL.SetInteractive(ctx, interactive); err != nil {
			c.log.Warnf("failed to set HAL interactive mode: %v", err)
		} else {
			c.halInteractive = interactive
			c.halInteractiveSet = true
		}
	}

	autoSuspend := !needDisplay
	if !c.halAutoSuspendSet || autoSuspend != c.halAutoSuspend {
		if err := c.cfg.HAL.SetAutoSuspend(ctx, autoSuspend); err != nil {
			c.log.Warnf("failed to set HAL autosuspend mode: %v", err)
		} else {
			c.halAutoSuspend = autoSuspend
			c.halAutoSuspendSet = true
		}
	}

	if !needWakeLock && c.holdingWakeLockBlocker {
		c.wakeLockBlocker.Release()
		c.holdingWakeLockBlocker = false
	}
	if !needDisplay && c.holdingDisplayBlocker {
		c.displayBlocker.Release()
		c.holdingDisplayBlocker = false
	}
}
