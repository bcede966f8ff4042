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
	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/platform"
)

// HBMController decides the brightness ceiling. High-brightness mode is
// allowed only in strong ambient light, such as direct sunlight, with
// hysteresis on the way down so the ceiling does not flap at the threshold.
type HBMController struct {
	light platform.LightSensor
	log   *zap.SugaredLogger

	engaged bool
}

// NewHBMController builds an HBMController. A nil light sensor pins the
// ceiling at the normal level.
func NewHBMController(light platform.LightSensor) *HBMController {
	return &HBMController{
		light: light,
		log:   logger.For(logger.ComponentHBM),
	}
}

// Update re-evaluates against the current ambient light. Called once per
// pipeline recompute.
func (h *HBMController) Update() {
	if h.light == nil {
		h.engaged = false
		return
	}

	lux := h.light.AmbientLux()
	if h.engaged {
		if lux < constants.HBMAmbientLuxThreshold-constants.HBMAmbientLuxHysteresis {
			h.engaged = false
			h.log.Debugf("high-brightness mode off (lux=%.0f)", lux)
		}
	} else if lux >= constants.HBMAmbientLuxThreshold {
		h.engaged = true
		h.log.Debugf("high-brightness mode on (lux=%.0f)", lux)
	}
}

// Ceiling returns the currently allowed maximum brightness.
func (h *HBMController) Ceiling() float64 {
	if h.engaged {
		return constants.HBMBrightnessCeiling
	}
	return constants.NormalBrightnessCeiling
}

// Engaged reports whether high-brightness mode is active.
func (h *HBMController) Engaged() bool {
	return h.engaged
}
