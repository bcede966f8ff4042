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

// Package config holds the persisted power settings and the daemon
// configuration. Settings are user policy (timeouts, brightness, dream
// behavior); daemon configuration is deployment wiring (listen addresses).
// Both live in one YAML file so an operator edits a single document.
package config

import (
	"time"

	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/platform"
)

// BrightnessMode selects how the bright-state brightness is chosen.
type BrightnessMode string

const (
	// BrightnessModeManual uses the user-set brightness.
	BrightnessModeManual BrightnessMode = "manual"
	// BrightnessModeAutomatic follows the ambient light sensor.
	BrightnessModeAutomatic BrightnessMode = "automatic"
)

// Settings is the user-facing power policy.
type Settings struct {
	// ScreenOffTimeout is the inactivity duration after which the screen
	// turns off. Clamped to a floor so a bad value can never make the
	// device unusable.
	ScreenOffTimeout time.Duration `yaml:"screenOffTimeout" json:"screenOffTimeout"`

	// StayOnWhilePluggedIn lists power sources that keep the screen on
	// indefinitely: "ac", "usb", "wireless".
	StayOnWhilePluggedIn []string `yaml:"stayOnWhilePluggedIn" json:"stayOnWhilePluggedIn"`

	// ScreenBrightness is the manual brightness setting in [0,1].
	ScreenBrightness float64 `yaml:"screenBrightness" json:"screenBrightness"`

	// BrightnessMode selects manual or sensor-driven brightness.
	BrightnessMode BrightnessMode `yaml:"brightnessMode" json:"brightnessMode"`

	// AutoBrightnessAdjustment biases the automatic curve, in [-1,1].
	AutoBrightnessAdjustment float64 `yaml:"autoBrightnessAdjustment" json:"autoBrightnessAdjustment"`

	// DreamsEnabled globally enables dreaming.
	DreamsEnabled bool `yaml:"dreamsEnabled" json:"dreamsEnabled"`
	// DreamsActivateOnSleep starts a dream instead of sleeping when the
	// user activity timeout expires while powered.
	DreamsActivateOnSleep bool `yaml:"dreamsActivateOnSleep" json:"dreamsActivateOnSleep"`
	// DreamsActivateOnDock starts a dream when the device is docked.
	DreamsActivateOnDock bool `yaml:"dreamsActivateOnDock" json:"dreamsActivateOnDock"`
}

// Daemon is the deployment configuration.
type Daemon struct {
	// APIAddr is the listen address of the HTTP control API.
	APIAddr string `yaml:"apiAddr" json:"apiAddr"`
	// MetricsAddr is the listen address of the Prometheus endpoint.
	MetricsAddr string `yaml:"metricsAddr" json:"metricsAddr"`
}

// FullConfig is the on-disk document.
type FullConfig struct {
	Settings Settings `yaml:"settings" json:"settings"`
	Daemon   Daemon   `yaml:"daemon" json:"daemon"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() FullConfig {
	return FullConfig{
		Settings: Settings{
			ScreenOffTimeout:         constants.DefaultScreenOffTimeout,
			StayOnWhilePluggedIn:     nil,
			ScreenBrightness:         constants.DefaultScreenBrightness,
			BrightnessMode:           BrightnessModeManual,
			AutoBrightnessAdjustment: 0,
			DreamsEnabled:            true,
			DreamsActivateOnSleep:    true,
			DreamsActivateOnDock:     true,
		},
		Daemon: Daemon{
			APIAddr:     ":8799",
			MetricsAddr: ":8798",
		},
	}
}

// StayOnPlugMask converts the configured power source names to a plug mask.
// Unknown names are ignored rather than rejected so an old config keeps
// working when a source type is removed.
func (s Settings) StayOnPlugMask() platform.PlugType {
	var mask platform.PlugType
	for _, name := range s.StayOnWhilePluggedIn {
		switch name {
		case "ac":
			mask |= platform.PlugAC
		case "usb":
			mask |= platform.PlugUSB
		case "wireless":
			mask |= platform.PlugWireless
		}
	}
	return mask
}

// sanitize clamps every field into its valid range in place.
func (s *Settings) sanitize() {
	if s.ScreenOffTimeout < constants.MinimumScreenOffTimeout {
		s.ScreenOffTimeout = constants.MinimumScreenOffTimeout
	}
	s.ScreenBrightness = clamp01(s.ScreenBrightness)
	if s.AutoBrightnessAdjustment < -1 {
		s.AutoBrightnessAdjustment = -1
	} else if s.AutoBrightnessAdjustment > 1 {
		s.AutoBrightnessAdjustment = 1
	}
	if s.BrightnessMode != BrightnessModeAutomatic {
		s.BrightnessMode = BrightnessModeManual
	}
}

// DimDuration returns how long the screen dims before turning off, derived
// from the screen-off timeout so short timeouts still show a warning dim.
func (s Settings) DimDuration() time.Duration {
	d := constants.ScreenDimDuration
	if maxDim := time.Duration(float64(s.ScreenOffTimeout) * constants.MaximumScreenDimRatio); d > maxDim {
		d = maxDim
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
