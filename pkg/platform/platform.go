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

// Package platform defines the collaborator interfaces the power core
// consumes: the low-level power hook, battery state, dream sessions, client
// liveness, and the sensor sources feeding the display pipeline. The core
// never talks to hardware directly; everything below this line is injected.
package platform

import "context"

// PlugType identifies the power source currently attached.
type PlugType int

const (
	PlugNone PlugType = 0
	// Plug types are bit flags so settings can express "stay on while
	// plugged into any of these".
	PlugAC       PlugType = 1 << 0
	PlugUSB      PlugType = 1 << 1
	PlugWireless PlugType = 1 << 2

	PlugAny = PlugAC | PlugUSB | PlugWireless
)

func (p PlugType) String() string {
	switch p {
	case PlugNone:
		return "none"
	case PlugAC:
		return "ac"
	case PlugUSB:
		return "usb"
	case PlugWireless:
		return "wireless"
	default:
		return "multiple"
	}
}

// PowerHAL is the low-level platform hook. Implementations are expected to
// be cheap and non-blocking; failures are treated as transient by callers.
type PowerHAL interface {
	// SetPowerState pushes the coarse screen state down to the platform.
	SetPowerState(ctx context.Context, screenOn, screenBright bool) error

	// AcquireSuspendBlocker and ReleaseSuspendBlocker control the named
	// kernel-level suspend veto. Calls are strictly paired by the suspend
	// registry; the HAL does not need to refcount.
	AcquireSuspendBlocker(ctx context.Context, name string) error
	ReleaseSuspendBlocker(ctx context.Context, name string) error

	// SetInteractive tells the platform whether the device is in an
	// interactive state (affects input batching, CPU governors).
	SetInteractive(ctx context.Context, interactive bool) error

	// SetAutoSuspend enables or disables the platform's opportunistic
	// suspend machinery.
	SetAutoSuspend(ctx context.Context, enable bool) error
}

// BatteryProvider reports charge state. IsPowered answers against a plug
// type mask so policy like stay-on-while-plugged can be evaluated directly.
type BatteryProvider interface {
	IsPowered(mask PlugType) bool
	PlugType() PlugType
	BatteryLevel() int
}

// DreamController starts and stops dream sessions. Start and Stop may be
// slow; the coordinator only calls them from its sandman goroutine, never
// while holding its state lock.
type DreamController interface {
	StartDream(ctx context.Context, doze bool) error
	StopDream(ctx context.Context) error
	IsDreaming() bool
}

// DeathMonitor links a wake-lock owner to a callback fired when the owning
// client terminates. Link returns an unlink func that must be safe to call
// after the callback has fired.
type DeathMonitor interface {
	Link(owner ClientID, onDeath func()) (unlink func(), err error)
}

// ClientID identifies a wake-lock owner for liveness and attribution.
type ClientID struct {
	UID int
	PID int
}

// LightSensor reports ambient light for auto-brightness and HBM gating.
type LightSensor interface {
	AmbientLux() float64
}

// ProximitySensor delivers proximity transitions to the display pipeline.
// Events sends true when the sensor covers (positive) and false when it
// clears (negative).
type ProximitySensor interface {
	Available() bool
	Events() <-chan bool
}

// TemperatureSource samples the thermal sensor feeding the brightness
// throttler.
type TemperatureSource interface {
	Temperature(ctx context.Context) (float64, error)
}
