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

	"github.com/tiendc/go-deepcopy"
)

// Policy is the screen policy requested by the power coordinator. It names
// an intent; the pipeline derives the actual screen state and brightness
// from it. Closed enum, switches over it are exhaustive.
type Policy int

const (
	// PolicyOff turns the screen off.
	PolicyOff Policy = iota
	// PolicyDoze shows the low-power doze display.
	PolicyDoze
	// PolicyDim keeps the screen on at reduced brightness.
	PolicyDim
	// PolicyBright keeps the screen on at full policy brightness.
	PolicyBright
	// PolicyVR drives the screen at a fixed VR brightness. No VR
	// collaborator ships in-tree; the policy value is retained because the
	// ramp-skip rules at VR edges are part of the pipeline contract.
	PolicyVR
)

func (p Policy) String() string {
	switch p {
	case PolicyOff:
		return "off"
	case PolicyDoze:
		return "doze"
	case PolicyDim:
		return "dim"
	case PolicyBright:
		return "bright"
	case PolicyVR:
		return "vr"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// BrightnessUnset marks an absent brightness value. NaN rather than a
// sentinel in-range value so arithmetic on an unset value is loudly wrong.
func BrightnessUnset() float64 {
	return math.NaN()
}

// IsBrightnessSet reports whether v carries a value.
func IsBrightnessSet(v float64) bool {
	return !math.IsNaN(v)
}

// Request is the value object handed from the coordinator to the pipeline.
// It is copied, never shared: the pipeline keeps its own deep copy so the
// coordinator may rebuild its request freely between passes.
type Request struct {
	Policy Policy

	// UseProximitySensor asks the pipeline to blank the screen while the
	// proximity sensor reports positive.
	UseProximitySensor bool

	// UseAutoBrightness enables the ambient-light-driven controller for the
	// bright state.
	UseAutoBrightness bool
	// AutoBrightnessAdjustment biases the automatic curve, in [-1,1].
	AutoBrightnessAdjustment float64

	// ScreenBrightnessOverride is a policy-supplied brightness that beats
	// both the automatic controller and the manual setting. Unset = NaN.
	ScreenBrightnessOverride float64

	// DozeScreenBrightness is the brightness used in the doze state.
	// Unset = NaN, falling back to the doze default.
	DozeScreenBrightness float64

	// BoostScreenBrightness drives the screen to maximum brightness.
	BoostScreenBrightness bool

	// LowPowerMode scales the final brightness down in battery saver.
	LowPowerMode bool

	// BlockScreenOn keeps the screen-on handshake open until the policy
	// layer has drawn its first frame.
	BlockScreenOn bool
}

// NewRequest returns a Request with all brightness fields unset.
func NewRequest() *Request {
	return &Request{
		Policy:                   PolicyOff,
		AutoBrightnessAdjustment: 0,
		ScreenBrightnessOverride: BrightnessUnset(),
		DozeScreenBrightness:     BrightnessUnset(),
	}
}

// IsBrightOrDim reports whether the policy keeps the screen interactive.
func (r *Request) IsBrightOrDim() bool {
	return r.Policy == PolicyBright || r.Policy == PolicyDim
}

// Copy returns an independent deep copy of the request.
func (r *Request) Copy() *Request {
	out := &Request{}
	if err := deepcopy.Copy(out, r); err != nil {
		// Request contains only plain value fields; a copy failure is a
		// programming error in the struct definition itself.
		panic(fmt.Sprintf("failed to copy display power request: %v", err))
	}
	return out
}

// Equal compares two requests field by field. Unset brightness values
// (NaN) compare equal to each other, unlike raw float comparison.
func (r *Request) Equal(other *Request) bool {
	if other == nil {
		return false
	}
	return r.Policy == other.Policy &&
		r.UseProximitySensor == other.UseProximitySensor &&
		r.UseAutoBrightness == other.UseAutoBrightness &&
		floatEqual(r.AutoBrightnessAdjustment, other.AutoBrightnessAdjustment) &&
		floatEqual(r.ScreenBrightnessOverride, other.ScreenBrightnessOverride) &&
		floatEqual(r.DozeScreenBrightness, other.DozeScreenBrightness) &&
		r.BoostScreenBrightness == other.BoostScreenBrightness &&
		r.LowPowerMode == other.LowPowerMode &&
		r.BlockScreenOn == other.BlockScreenOn
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

// Callbacks is the pipeline-to-coordinator notification surface. All
// methods are invoked from the pipeline's worker goroutine and must not
// block.
type Callbacks interface {
	// OnStateChanged fires when display readiness may have changed and the
	// coordinator should re-issue its request.
	OnStateChanged()
	// OnProximityPositive fires when the proximity sensor reports covered.
	OnProximityPositive()
	// OnProximityNegative fires when the proximity sensor reports clear.
	OnProximityNegative()
}
