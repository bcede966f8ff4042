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
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
)

// Throttler caps brightness when the device runs hot. It engages above the
// throttle temperature and releases only below the lower release
// temperature; the gap is the hysteresis that keeps the cap from flapping
// while the panel heats and cools around one threshold.
type Throttler struct {
	source platform.TemperatureSource
	log    *zap.SugaredLogger

	lastPoll    time.Time
	temperature float64
	engaged     bool
}

// NewThrottler builds a Throttler. A nil source disables throttling.
func NewThrottler(source platform.TemperatureSource) *Throttler {
	return &Throttler{
		source: source,
		log:    logger.For(logger.ComponentThrottler),
	}
}

// Poll samples the temperature source, rate-limited to the configured poll
// interval. A read failure is transient: the previous decision stands.
func (t *Throttler) Poll(ctx context.Context, now time.Time) {
	if t.source == nil {
		return
	}
	if !t.lastPoll.IsZero() && now.Sub(t.lastPoll) < constants.ThermalPollInterval {
		return
	}
	t.lastPoll = now

	temp, err := t.source.Temperature(ctx)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentDisplayPipeline, "temperature_read")
		t.log.Warnf("temperature read failed, keeping previous throttle state: %v", err)
		return
	}
	t.temperature = temp

	if t.engaged {
		if temp < constants.ThermalReleaseTemperature {
			t.engaged = false
			t.log.Infof("thermal brightness cap released (%.1f°C)", temp)
		}
	} else if temp >= constants.ThermalThrottleTemperature {
		t.engaged = true
		t.log.Warnf("thermal brightness cap engaged (%.1f°C)", temp)
	}
}

// IsThrottling reports whether the cap is active.
func (t *Throttler) IsThrottling() bool {
	return t.engaged
}

// Cap returns the maximum brightness allowed while throttling.
func (t *Throttler) Cap() float64 {
	return constants.ThermalThrottleBrightnessCap
}

// Temperature returns the last sampled temperature.
func (t *Throttler) Temperature() float64 {
	return t.temperature
}
