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

package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// GopsutilTemperatureSource reads the hottest matching sensor from the host.
// An empty SensorKeyPrefix matches every sensor.
type GopsutilTemperatureSource struct {
	SensorKeyPrefix string
}

// NewGopsutilTemperatureSource returns a TemperatureSource backed by the
// host's thermal sensors.
func NewGopsutilTemperatureSource(sensorKeyPrefix string) *GopsutilTemperatureSource {
	return &GopsutilTemperatureSource{SensorKeyPrefix: sensorKeyPrefix}
}

// Temperature returns the maximum temperature across matching sensors.
func (s *GopsutilTemperatureSource) Temperature(ctx context.Context) (float64, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read host temperature sensors: %w", err)
	}

	found := false
	max := 0.0
	for _, t := range temps {
		if s.SensorKeyPrefix != "" && !strings.HasPrefix(t.SensorKey, s.SensorKeyPrefix) {
			continue
		}
		if !found || t.Temperature > max {
			max = t.Temperature
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no temperature sensor matching prefix %q", s.SensorKeyPrefix)
	}
	return max, nil
}
