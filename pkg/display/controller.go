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

// Package display implements the display power pipeline. The coordinator
// hands it a desired screen policy; the pipeline converges the actual
// screen state and brightness toward it on its own worker goroutine, with
// ramped animation, high-brightness-mode and thermal ceilings, and
// proximity-based blanking. Requests never block: the caller gets the
// current readiness and is notified asynchronously when it changes.
package display

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
)

// ControllerConfig wires the pipeline's collaborators. Proximity, Light,
// and Temperature may be nil; the corresponding feature is then disabled.
type ControllerConfig struct {
	HAL         platform.PowerHAL
	Callbacks   Callbacks
	Proximity   platform.ProximitySensor
	Light       platform.LightSensor
	Temperature platform.TemperatureSource
	Settings    *config.Store

	// ScreenOnListener receives the screen-on unblock token when a request
	// carries BlockScreenOn. Nil means nobody participates in the
	// handshake and screen-on proceeds unblocked.
	ScreenOnListener func(unblock func())
	// ScreenOffListener likewise for the screen-off edge.
	ScreenOffListener func(unblock func())
}

// Controller is the display power pipeline. The pending request and the
// readiness flag are the only state shared with callers, guarded by mu;
// everything else belongs to the worker goroutine.
type Controller struct {
	cfg ControllerConfig
	log *zap.SugaredLogger

	hbm       *HBMController
	throttler *Throttler

	signal chan struct{}

	mu sync.Mutex

	pending                         *Request
	pendingWaitForNegativeProximity bool
	displayReadyLocked              bool

	screenOnUnblocker  *Unblocker
	screenOffUnblocker *Unblocker

	temporaryBrightness     float64
	temporaryAutoAdjustment float64

	// persistingCap marks a settings write issued by the pipeline itself,
	// so its own change notification does not clear the slider overrides.
	persistingCap bool

	status Status

	// Worker-owned state below; the worker goroutine is the only accessor.
	current                     *Request
	screenState                 ScreenState
	screenStateSet              bool
	halClean                    bool
	currentBrightness           float64
	targetBrightness            float64
	rampRate                    float64
	reason                      BrightnessReason
	modifiers                   BrightnessModifier
	proximityPositive           bool
	waitingForNegativeProximity bool
}

// Status is the pipeline's externally visible state.
type Status struct {
	ScreenState        string  `json:"screenState"`
	Brightness         float64 `json:"brightness"`
	TargetBrightness   float64 `json:"targetBrightness"`
	Reason             string  `json:"reason"`
	Modifiers          string  `json:"modifiers"`
	Ready              bool    `json:"ready"`
	HBMEngaged         bool    `json:"hbmEngaged"`
	Throttling         bool    `json:"throttling"`
	TemperatureCelsius float64 `json:"temperatureCelsius"`
}

// NewController builds the pipeline. A settings change invalidates the
// temporary slider overrides, so a persisted brightness edit always takes
// effect immediately.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		cfg:                     cfg,
		log:                     logger.For(logger.ComponentDisplay),
		hbm:                     NewHBMController(cfg.Light),
		throttler:               NewThrottler(cfg.Temperature),
		signal:                  make(chan struct{}, 1),
		temporaryBrightness:     BrightnessUnset(),
		temporaryAutoAdjustment: BrightnessUnset(),
		screenState:             StateOff,
	}

	cfg.Settings.OnChange(func(config.Settings) {
		c.mu.Lock()
		self := c.persistingCap
		c.mu.Unlock()
		if !self {
			c.ClearTemporaryOverrides()
		}
	})

	return c
}

// RequestPowerState hands the pipeline a new desired state and reports
// whether the display has already converged. The request is copied under
// the lock; a deep-equal request changes nothing and does not re-trigger
// animation. Never blocks.
func (c *Controller) RequestPowerState(req *Request, waitForNegativeProximity bool) bool {
	c.mu.Lock()

	changed := false
	if waitForNegativeProximity && !c.pendingWaitForNegativeProximity {
		c.pendingWaitForNegativeProximity = true
		changed = true
	}
	if c.pending == nil || !c.pending.Equal(req) {
		c.pending = req.Copy()
		changed = true
	}
	if changed {
		c.displayReadyLocked = false
	}
	ready := c.displayReadyLocked
	c.mu.Unlock()

	if changed {
		c.signalUpdate()
	}
	return ready
}

// SetTemporaryBrightness tracks the user's slider while dragging. The
// value wins over the automatic controller until cleared or superseded by
// a settings change.
func (c *Controller) SetTemporaryBrightness(v float64) {
	c.mu.Lock()
	c.temporaryBrightness = v
	c.mu.Unlock()
	c.signalUpdate()
}

// SetTemporaryAutoBrightnessAdjustment tracks the adjustment slider.
func (c *Controller) SetTemporaryAutoBrightnessAdjustment(v float64) {
	c.mu.Lock()
	c.temporaryAutoAdjustment = v
	c.mu.Unlock()
	c.signalUpdate()
}

// ClearTemporaryOverrides drops both slider overrides.
func (c *Controller) ClearTemporaryOverrides() {
	c.mu.Lock()
	c.temporaryBrightness = BrightnessUnset()
	c.temporaryAutoAdjustment = BrightnessUnset()
	c.mu.Unlock()
	c.signalUpdate()
}

// Status returns the last published pipeline state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) signalUpdate() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Run drives the worker until ctx is cancelled. The ticker advances the
// brightness animation and samples the thermal throttler; everything else
// arrives through the signal channel and the proximity event stream.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(constants.BrightnessRampTickInterval)
	defer ticker.Stop()

	var proximityEvents <-chan bool
	if c.cfg.Proximity != nil && c.cfg.Proximity.Available() {
		proximityEvents = c.cfg.Proximity.Events()
	}

	c.log.Infof("display power pipeline running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.signal:
			c.recompute(ctx)
		case positive := <-proximityEvents:
			c.handleProximity(ctx, positive)
		case <-ticker.C:
			wasThrottling := c.throttler.IsThrottling()
			c.throttler.Poll(ctx, time.Now())
			if wasThrottling != c.throttler.IsThrottling() || !c.halClean {
				// A throttle edge changes the brightness cap; a dirty panel
				// state needs the HAL call retried.
				c.recompute(ctx)
			} else {
				c.stepAnimation(ctx)
			}
		}
	}
}

func (c *Controller) handleProximity(ctx context.Context, positive bool) {
	if positive == c.proximityPositive {
		return
	}
	c.proximityPositive = positive
	c.log.Debugf("proximity %t", positive)

	if positive {
		c.cfg.Callbacks.OnProximityPositive()
	} else {
		c.cfg.Callbacks.OnProximityNegative()
	}
	c.recompute(ctx)
}

// recompute is the pipeline's single derivation pass: target screen state
// (proximity override first), screen-state transition with the unblocker
// handshake, then the brightness cascade and ramp selection.
func (c *Controller) recompute(ctx context.Context) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	req := c.pending.Copy()
	waitProx := c.pendingWaitForNegativeProximity
	c.pendingWaitForNegativeProximity = false
	tempBrightness := c.temporaryBrightness
	tempAdjustment := c.temporaryAutoAdjustment
	c.mu.Unlock()

	c.current = req
	if waitProx {
		c.waitingForNegativeProximity = true
	}
	if !c.proximityPositive {
		c.waitingForNegativeProximity = false
	}

	c.hbm.Update()

	state := policyToState(req.Policy)
	useProximity := req.UseProximitySensor &&
		c.cfg.Proximity != nil && c.cfg.Proximity.Available()
	if (useProximity || c.waitingForNegativeProximity) && c.proximityPositive {
		state = StateOff
	}

	previousState := c.screenState
	previousStateSet := c.screenStateSet
	c.applyScreenState(ctx, state)

	if state == StateOff {
		c.currentBrightness = 0
		c.targetBrightness = 0
		c.reason = ReasonNone
		c.modifiers = 0
		metrics.SetScreenBrightness(0)
	} else {
		throttleCap := BrightnessUnset()
		if c.throttler.IsThrottling() {
			throttleCap = c.throttler.Cap()
			c.persistBrightnessCap(ctx, throttleCap)
		}

		target, reason, mods := computeBrightness(brightnessInputs{
			state:                   state,
			request:                 req,
			temporaryBrightness:     tempBrightness,
			temporaryAutoAdjustment: tempAdjustment,
			manualSetting:           c.cfg.Settings.Get().ScreenBrightness,
			ambientLux:              c.ambientLux(),
			hbmCeiling:              c.hbm.Ceiling(),
			throttleCap:             throttleCap,
		})

		if target != c.targetBrightness {
			c.rampRate = c.chooseRampRate(previousState, previousStateSet, state, reason, target)
			c.targetBrightness = target
			if c.rampRate <= 0 {
				c.currentBrightness = target
				metrics.SetScreenBrightness(target)
			}
		}
		c.reason = reason
		c.modifiers = mods
	}

	c.updateReadiness()
	c.publishStatus()
}

// persistBrightnessCap folds the thermal ceiling back into the stored
// brightness setting, so the setting and the panel cannot disagree and a
// reboot does not restore a brightness the hardware may not sustain.
func (c *Controller) persistBrightnessCap(ctx context.Context, ceiling float64) {
	if c.cfg.Settings.Get().ScreenBrightness <= ceiling {
		return
	}

	c.mu.Lock()
	c.persistingCap = true
	c.mu.Unlock()
	err := c.cfg.Settings.Update(ctx, func(s *config.Settings) {
		if s.ScreenBrightness > ceiling {
			s.ScreenBrightness = ceiling
		}
	})
	c.mu.Lock()
	c.persistingCap = false
	c.mu.Unlock()

	if err != nil {
		c.log.Warnf("failed to persist thermally capped brightness: %v", err)
	} else {
		c.log.Infof("persisted brightness lowered to thermal ceiling %.2f", ceiling)
	}
}

func policyToState(p Policy) ScreenState {
	switch p {
	case PolicyOff:
		return StateOff
	case PolicyDoze:
		return StateDoze
	case PolicyDim:
		return StateDim
	case PolicyVR:
		return StateVR
	default:
		return StateBright
	}
}

// applyScreenState drives the panel and manages the handshake tokens. A
// token belonging to a superseded transition is abandoned, never released
// twice.
func (c *Controller) applyScreenState(ctx context.Context, state ScreenState) {
	if c.screenStateSet && c.screenState == state {
		return
	}

	turningOn := state != StateOff && (!c.screenStateSet || c.screenState == StateOff)
	turningOff := state == StateOff && c.screenStateSet && c.screenState != StateOff

	if turningOn {
		c.abandonUnblocker(&c.screenOffUnblocker)
		if c.current.BlockScreenOn {
			c.acquireUnblocker(&c.screenOnUnblocker, "screen-on", c.cfg.ScreenOnListener)
		}
	}
	if turningOff {
		c.abandonUnblocker(&c.screenOnUnblocker)
		if c.cfg.ScreenOffListener != nil {
			c.acquireUnblocker(&c.screenOffUnblocker, "screen-off", c.cfg.ScreenOffListener)
		}
	}

	on := state != StateOff
	bright := state == StateBright || state == StateVR
	if err := c.cfg.HAL.SetPowerState(ctx, on, bright); err != nil {
		// Transient platform failure; the next recompute retries and
		// readiness stays false until the panel state is clean.
		metrics.IncErrorCount(metrics.ComponentDisplayPipeline, "set_power_state")
		c.log.Warnf("failed to set panel power state: %v", err)
		c.halClean = false
	} else {
		c.halClean = true
	}

	c.log.Infof("screen state %s -> %s", c.screenState, state)
	c.screenState = state
	c.screenStateSet = true
	metrics.SetScreenState(state.MetricValue())
}

func (c *Controller) acquireUnblocker(slot **Unblocker, name string, listener func(unblock func())) {
	c.mu.Lock()
	if *slot != nil {
		c.mu.Unlock()
		return
	}
	u := newUnblocker(name, c.onUnblocked)
	*slot = u
	c.mu.Unlock()

	if listener != nil {
		listener(u.Unblock)
	} else {
		u.Unblock()
	}
}

func (c *Controller) abandonUnblocker(slot **Unblocker) {
	c.mu.Lock()
	*slot = nil
	c.mu.Unlock()
}

// onUnblocked runs on the consumer's goroutine. Identity comparison makes
// abandoned tokens inert.
func (c *Controller) onUnblocked(u *Unblocker) {
	c.mu.Lock()
	matched := false
	if c.screenOnUnblocker == u {
		c.screenOnUnblocker = nil
		matched = true
	}
	if c.screenOffUnblocker == u {
		c.screenOffUnblocker = nil
		matched = true
	}
	c.mu.Unlock()

	if matched {
		c.log.Debugf("%s handshake completed", u.name)
		c.signalUpdate()
	}
}

// chooseRampRate returns units/second, or 0 to jump without animating.
func (c *Controller) chooseRampRate(previousState ScreenState, previousStateSet bool, state ScreenState, reason BrightnessReason, target float64) float64 {
	// Ramps are skipped when the screen is not yet visible, at VR edges,
	// in doze, and while the user drags the slider.
	if !previousStateSet || previousState == StateOff {
		return 0
	}
	if state == StateDoze || previousState == StateDoze {
		return 0
	}
	if state == StateVR || previousState == StateVR {
		return 0
	}
	if reason == ReasonTemporary {
		return 0
	}

	decreasing := target < c.currentBrightness
	if decreasing && (reason == ReasonAutomatic || state == StateDim) {
		return constants.BrightnessRampRateSlow
	}
	return constants.BrightnessRampRateFast
}

// stepAnimation advances the ramp by one tick.
func (c *Controller) stepAnimation(ctx context.Context) {
	if !c.screenState.IsOn() || c.currentBrightness == c.targetBrightness {
		return
	}

	if c.rampRate <= 0 {
		c.currentBrightness = c.targetBrightness
	} else {
		step := c.rampRate * constants.BrightnessRampTickInterval.Seconds()
		diff := c.targetBrightness - c.currentBrightness
		if math.Abs(diff) <= step {
			c.currentBrightness = c.targetBrightness
		} else if diff > 0 {
			c.currentBrightness += step
		} else {
			c.currentBrightness -= step
		}
	}
	metrics.SetScreenBrightness(c.currentBrightness)

	if c.currentBrightness == c.targetBrightness {
		c.updateReadiness()
	}
	c.publishStatus()
}

func (c *Controller) ambientLux() float64 {
	if c.cfg.Light == nil {
		return 0
	}
	return c.cfg.Light.AmbientLux()
}

// updateReadiness recomputes the readiness conjunction and notifies the
// coordinator exactly once when it newly becomes true.
func (c *Controller) updateReadiness() {
	animating := c.currentBrightness != c.targetBrightness

	c.mu.Lock()
	blocked := c.screenOnUnblocker != nil || c.screenOffUnblocker != nil
	ready := !blocked && !animating && c.halClean
	wasReady := c.displayReadyLocked
	c.displayReadyLocked = ready
	c.mu.Unlock()

	if ready && !wasReady {
		c.cfg.Callbacks.OnStateChanged()
	}
}

func (c *Controller) publishStatus() {
	status := Status{
		ScreenState:        c.screenState.String(),
		Brightness:         c.currentBrightness,
		TargetBrightness:   c.targetBrightness,
		Reason:             c.reason.String(),
		Modifiers:          c.modifiers.String(),
		HBMEngaged:         c.hbm.Engaged(),
		Throttling:         c.throttler.IsThrottling(),
		TemperatureCelsius: c.throttler.Temperature(),
	}

	c.mu.Lock()
	status.Ready = c.displayReadyLocked
	c.status = status
	c.mu.Unlock()
}
