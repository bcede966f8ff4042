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
	"fmt"
	"math"
	"strings"

	"github.com/powerframe/powerd/pkg/constants"
)

// ScreenState is the actual power state of the panel.
type ScreenState int

const (
	StateOff ScreenState = iota
	StateDoze
	StateDim
	StateBright
	StateVR
)

func (s ScreenState) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateDoze:
		return "doze"
	case StateDim:
		return "dim"
	case StateBright:
		return "bright"
	case StateVR:
		return "vr"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsOn reports whether the panel emits light in this state.
func (s ScreenState) IsOn() bool {
	return s != StateOff
}

// MetricValue maps the state onto the screen-state gauge.
func (s ScreenState) MetricValue() float64 {
	return float64(s)
}

// BrightnessReason records which input in the precedence cascade chose the
// brightness, for the status API and logging.
type BrightnessReason int

const (
	ReasonNone BrightnessReason = iota
	ReasonVR
	ReasonOverride
	ReasonTemporary
	ReasonBoost
	ReasonAutomatic
	ReasonDoze
	ReasonManual
)

func (r BrightnessReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonVR:
		return "vr"
	case ReasonOverride:
		return "override"
	case ReasonTemporary:
		return "temporary"
	case ReasonBoost:
		return "boost"
	case ReasonAutomatic:
		return "automatic"
	case ReasonDoze:
		return "doze"
	case ReasonManual:
		return "manual"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// BrightnessModifier is the set of scalers applied on top of the chosen
// value.
type BrightnessModifier uint32

const (
	ModifierDimmed BrightnessModifier = 1 << iota
	ModifierLowPower
	ModifierThrottled
)

func (m BrightnessModifier) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&ModifierDimmed != 0 {
		parts = append(parts, "dimmed")
	}
	if m&ModifierLowPower != 0 {
		parts = append(parts, "low-power")
	}
	if m&ModifierThrottled != 0 {
		parts = append(parts, "throttled")
	}
	return strings.Join(parts, "|")
}

// brightnessInputs collects everything the cascade consumes in one pass.
type brightnessInputs struct {
	state   ScreenState
	request *Request

	// temporaryBrightness is the slider value while the user is dragging;
	// it beats the automatic controller for the pass it is set in.
	temporaryBrightness float64
	// temporaryAutoAdjustment likewise overrides the request's adjustment.
	temporaryAutoAdjustment float64

	manualSetting float64
	ambientLux    float64

	hbmCeiling  float64
	throttleCap float64 // NaN when not throttling
}

// computeBrightness resolves the precedence cascade:
//
//	VR > override > temporary > boost > automatic > doze default > manual
//
// The chosen value is clamped to the HBM ceiling, capped by thermal
// throttling, and only then scaled by the dim and low-power modifiers. The
// modifier order matters: throttling changes the allowed range, dimming and
// low power scale within it.
func computeBrightness(in brightnessInputs) (float64, BrightnessReason, BrightnessModifier) {
	if in.state == StateOff {
		return 0, ReasonNone, 0
	}

	value := math.NaN()
	reason := ReasonNone

	switch {
	case in.state == StateVR:
		value = constants.ScreenBrightnessVRDefault
		reason = ReasonVR
	case IsBrightnessSet(in.request.ScreenBrightnessOverride):
		value = in.request.ScreenBrightnessOverride
		reason = ReasonOverride
	case IsBrightnessSet(in.temporaryBrightness):
		value = in.temporaryBrightness
		reason = ReasonTemporary
	case in.request.BoostScreenBrightness && in.state != StateDoze:
		value = constants.ScreenBrightnessMaximum
		reason = ReasonBoost
	case in.request.UseAutoBrightness && in.state != StateDoze:
		adjustment := in.request.AutoBrightnessAdjustment
		if IsBrightnessSet(in.temporaryAutoAdjustment) {
			adjustment = in.temporaryAutoAdjustment
		}
		value = autoBrightness(in.ambientLux, adjustment)
		reason = ReasonAutomatic
	case in.state == StateDoze:
		value = in.request.DozeScreenBrightness
		if !IsBrightnessSet(value) {
			value = constants.ScreenBrightnessDozeDefault
		}
		reason = ReasonDoze
	default:
		value = in.manualSetting
		reason = ReasonManual
	}

	var mods BrightnessModifier

	value = clampBrightness(value, in.hbmCeiling)
	if IsBrightnessSet(in.throttleCap) && value > in.throttleCap {
		value = in.throttleCap
		mods |= ModifierThrottled
	}

	if in.state == StateDim {
		value *= constants.ScreenBrightnessDimFactor
		mods |= ModifierDimmed
	}
	if in.request.LowPowerMode && in.state != StateDoze {
		value *= constants.ScreenBrightnessLowPowerFactor
		mods |= ModifierLowPower
	}

	return clampBrightness(value, constants.ScreenBrightnessMaximum), reason, mods
}

// autoBrightness maps ambient lux onto [0,1] with a logarithmic curve, then
// biases it by the user adjustment in [-1,1].
func autoBrightness(lux, adjustment float64) float64 {
	if lux < 0 {
		lux = 0
	}
	base := math.Log10(lux+1) / 5 // ~1.0 at 100k lux
	return clampBrightness(base+adjustment/2, constants.ScreenBrightnessMaximum)
}

func clampBrightness(v, ceiling float64) float64 {
	if math.IsNaN(v) || v < constants.ScreenBrightnessMinimum {
		return constants.ScreenBrightnessMinimum
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
