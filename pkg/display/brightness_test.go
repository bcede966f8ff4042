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

package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/powerframe/powerd/pkg/constants"
)

func brightInputs(tweak func(*brightnessInputs)) brightnessInputs {
	in := brightnessInputs{
		state:                   StateBright,
		request:                 NewRequest(),
		temporaryBrightness:     BrightnessUnset(),
		temporaryAutoAdjustment: BrightnessUnset(),
		manualSetting:           0.5,
		ambientLux:              100,
		hbmCeiling:              constants.NormalBrightnessCeiling,
		throttleCap:             BrightnessUnset(),
	}
	in.request.Policy = PolicyBright
	if tweak != nil {
		tweak(&in)
	}
	return in
}

func TestComputeBrightnessOffIsZero(t *testing.T) {
	value, reason, mods := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateOff
	}))
	assert.Zero(t, value)
	assert.Equal(t, ReasonNone, reason)
	assert.Zero(t, mods)
}

func TestComputeBrightnessManualFallback(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(nil))
	assert.Equal(t, 0.5, value)
	assert.Equal(t, ReasonManual, reason)
}

func TestComputeBrightnessVRBeatsEverything(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateVR
		in.request.ScreenBrightnessOverride = 0.2
		in.temporaryBrightness = 0.3
		in.request.BoostScreenBrightness = true
	}))
	assert.Equal(t, ReasonVR, reason)
	// The VR default exceeds the normal ceiling; the HBM clamp applies.
	assert.Equal(t, constants.NormalBrightnessCeiling, value)
}

func TestComputeBrightnessOverrideBeatsTemporary(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.ScreenBrightnessOverride = 0.2
		in.temporaryBrightness = 0.7
	}))
	assert.Equal(t, 0.2, value)
	assert.Equal(t, ReasonOverride, reason)
}

// A slider drag must win over the automatic controller, not just over the
// manual setting.
func TestComputeBrightnessTemporaryBeatsAutomatic(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.UseAutoBrightness = true
		in.temporaryBrightness = 0.42
	}))
	assert.Equal(t, 0.42, value)
	assert.Equal(t, ReasonTemporary, reason)
}

func TestComputeBrightnessBoostBeatsAutomatic(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.UseAutoBrightness = true
		in.request.BoostScreenBrightness = true
		in.hbmCeiling = constants.HBMBrightnessCeiling
	}))
	assert.Equal(t, constants.ScreenBrightnessMaximum, value)
	assert.Equal(t, ReasonBoost, reason)
}

func TestComputeBrightnessAutomaticUsesTemporaryAdjustment(t *testing.T) {
	base, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.UseAutoBrightness = true
	}))
	assert.Equal(t, ReasonAutomatic, reason)

	biased, _, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.UseAutoBrightness = true
		in.temporaryAutoAdjustment = 0.5
	}))
	assert.Greater(t, biased, base)
}

func TestComputeBrightnessDozeDefault(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateDoze
		in.request.Policy = PolicyDoze
		// Boost and auto brightness do not apply in doze.
		in.request.BoostScreenBrightness = true
		in.request.UseAutoBrightness = true
	}))
	assert.Equal(t, constants.ScreenBrightnessDozeDefault, value)
	assert.Equal(t, ReasonDoze, reason)
}

func TestComputeBrightnessDozeRequestValue(t *testing.T) {
	value, reason, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateDoze
		in.request.Policy = PolicyDoze
		in.request.DozeScreenBrightness = 0.05
	}))
	assert.Equal(t, 0.05, value)
	assert.Equal(t, ReasonDoze, reason)
}

func TestComputeBrightnessHBMCeilingClamps(t *testing.T) {
	value, _, _ := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.manualSetting = 1.0
	}))
	assert.Equal(t, constants.NormalBrightnessCeiling, value)

	value, _, _ = computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.manualSetting = 1.0
		in.hbmCeiling = constants.HBMBrightnessCeiling
	}))
	assert.Equal(t, 1.0, value)
}

func TestComputeBrightnessThrottleCapThenDim(t *testing.T) {
	// Throttling changes the allowed range first; the dim modifier scales
	// within it.
	value, _, mods := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateDim
		in.request.Policy = PolicyDim
		in.manualSetting = 0.8
		in.throttleCap = constants.ThermalThrottleBrightnessCap
	}))
	expected := constants.ThermalThrottleBrightnessCap * constants.ScreenBrightnessDimFactor
	assert.InDelta(t, expected, value, 1e-9)
	assert.NotZero(t, mods&ModifierThrottled)
	assert.NotZero(t, mods&ModifierDimmed)
}

func TestComputeBrightnessThrottleBelowCapUntouched(t *testing.T) {
	value, _, mods := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.manualSetting = 0.4
		in.throttleCap = constants.ThermalThrottleBrightnessCap
	}))
	assert.Equal(t, 0.4, value)
	assert.Zero(t, mods&ModifierThrottled)
}

func TestComputeBrightnessLowPowerScales(t *testing.T) {
	value, _, mods := computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.request.LowPowerMode = true
	}))
	assert.InDelta(t, 0.5*constants.ScreenBrightnessLowPowerFactor, value, 1e-9)
	assert.NotZero(t, mods&ModifierLowPower)

	// Doze brightness is already minimal; battery saver leaves it alone.
	value, _, mods = computeBrightness(brightInputs(func(in *brightnessInputs) {
		in.state = StateDoze
		in.request.Policy = PolicyDoze
		in.request.LowPowerMode = true
	}))
	assert.Equal(t, constants.ScreenBrightnessDozeDefault, value)
	assert.Zero(t, mods&ModifierLowPower)
}

func TestAutoBrightnessMonotonicInLux(t *testing.T) {
	dark := autoBrightness(1, 0)
	indoor := autoBrightness(300, 0)
	daylight := autoBrightness(30000, 0)
	assert.Less(t, dark, indoor)
	assert.Less(t, indoor, daylight)
	assert.LessOrEqual(t, daylight, constants.ScreenBrightnessMaximum)
	assert.GreaterOrEqual(t, dark, constants.ScreenBrightnessMinimum)
}

func TestClampBrightnessUnsetBecomesMinimum(t *testing.T) {
	assert.Equal(t, constants.ScreenBrightnessMinimum,
		clampBrightness(BrightnessUnset(), constants.ScreenBrightnessMaximum))
}
