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

package constants

import "time"

const (
	// DefaultAppVersion is the version used for local development builds.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment and DefaultProductionEnvironment select
	// where issue reports are filed.
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	// MinimumScreenOffTimeout is the floor applied to the configured
	// screen-off timeout so that a bad setting can never lock the user out
	// of the screen instantly.
	MinimumScreenOffTimeout = 10 * time.Second

	// DefaultScreenOffTimeout applies when no setting has been persisted.
	DefaultScreenOffTimeout = 15 * time.Second

	// ScreenDimDuration is how long the screen stays dim before turning
	// off, subject to MaximumScreenDimRatio.
	ScreenDimDuration = 7 * time.Second

	// MaximumScreenDimRatio caps the dim duration at a fraction of the
	// overall screen-off timeout so short timeouts still show a dim phase.
	MaximumScreenDimRatio = 0.2

	// ScreenBrightnessBoostDuration is how long a brightness boost holds the
	// screen at maximum before expiring.
	ScreenBrightnessBoostDuration = 5 * time.Second

	// CoordinatorTickInterval is how often the coordinator's run loop checks
	// timer expiry and polls the battery and dream collaborators.
	CoordinatorTickInterval = 100 * time.Millisecond
)

const (
	// DefaultScreenBrightness applies when no brightness has been persisted.
	DefaultScreenBrightness = 0.5

	// ScreenBrightnessMinimum and ScreenBrightnessMaximum bound every
	// brightness value before throttling constraints are applied.
	ScreenBrightnessMinimum = 0.0
	ScreenBrightnessMaximum = 1.0

	// ScreenBrightnessDimFactor scales the computed brightness when the dim
	// modifier is active.
	ScreenBrightnessDimFactor = 0.3

	// ScreenBrightnessLowPowerFactor scales the computed brightness when
	// battery saver is active.
	ScreenBrightnessLowPowerFactor = 0.5

	// ScreenBrightnessDozeDefault is used for doze policy when the request
	// carries no doze brightness of its own.
	ScreenBrightnessDozeDefault = 0.1

	// ScreenBrightnessVRDefault is the fixed brightness for VR policy.
	ScreenBrightnessVRDefault = 0.86
)

const (
	// BrightnessRampRateFast and BrightnessRampRateSlow are expressed in
	// brightness units per second.
	BrightnessRampRateFast = 2.0
	BrightnessRampRateSlow = 0.5

	// BrightnessRampTickInterval is the animation step interval of the
	// display pipeline worker.
	BrightnessRampTickInterval = 16 * time.Millisecond
)

const (
	// DreamsBatteryLevelDrainCutoff ends a dream when the battery has
	// drained this many percentage points below the level recorded at
	// dream start. Negative disables the check.
	DreamsBatteryLevelDrainCutoff = 5

	// DreamsBatteryLevelMinimumWhenNotPowered blocks dreams below this
	// battery level on battery power. Negative disables the check.
	DreamsBatteryLevelMinimumWhenNotPowered = 15

	// DreamsBatteryLevelMinimumWhenPowered blocks dreams below this battery
	// level even on charger power. Negative disables the check.
	DreamsBatteryLevelMinimumWhenPowered = -1
)

const (
	// ThermalThrottleTemperature is the skin/SoC temperature above which
	// the brightness cap engages.
	ThermalThrottleTemperature = 45.0

	// ThermalReleaseTemperature is the temperature the sensor must fall
	// below before the cap disengages. The gap provides hysteresis.
	ThermalReleaseTemperature = 42.0

	// ThermalThrottleBrightnessCap is the maximum brightness while
	// throttled.
	ThermalThrottleBrightnessCap = 0.6

	// ThermalPollInterval is how often the throttler samples temperatures.
	ThermalPollInterval = 2 * time.Second
)

const (
	// HBMBrightnessCeiling is the ceiling while high-brightness-mode is
	// allowed; NormalBrightnessCeiling applies otherwise. HBM headroom
	// above 1.0 is expressed by lowering the normal ceiling instead, so
	// brightness stays in [0,1] everywhere.
	HBMBrightnessCeiling    = 1.0
	NormalBrightnessCeiling = 0.8

	// HBMAmbientLuxThreshold is the ambient light level above which HBM is
	// allowed, with HBMAmbientLuxHysteresis of slack on the way down.
	HBMAmbientLuxThreshold  = 10000.0
	HBMAmbientLuxHysteresis = 2000.0
)

const (
	// ExpectedMaxP95ExecutionTimePerTransition guards wakefulness
	// transitions against starting with too little context budget left.
	ExpectedMaxP95ExecutionTimePerTransition = 50 * time.Millisecond
)
