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

package power

import (
	"strings"

	"github.com/looplab/fsm"
)

// Wakefulness is the device's top-level power classification. Exactly one
// value is live at a time and it only changes through the coordinator's
// state machine.
type Wakefulness string

const (
	// WakefulnessAwake means the device is fully interactive.
	WakefulnessAwake Wakefulness = "awake"
	// WakefulnessDreaming means an idle-time dream session runs at full
	// power while the device is nominally asleep.
	WakefulnessDreaming Wakefulness = "dreaming"
	// WakefulnessDozing means the device is in a low-power state where the
	// display may stay on under a restricted doze brightness.
	WakefulnessDozing Wakefulness = "dozing"
	// WakefulnessAsleep means the device is fully asleep.
	WakefulnessAsleep Wakefulness = "asleep"
)

// IsInteractive reports whether the value counts as "screen usable".
func (w Wakefulness) IsInteractive() bool {
	return w == WakefulnessAwake || w == WakefulnessDreaming
}

// MetricValue maps the state onto the wakefulness gauge.
func (w Wakefulness) MetricValue() float64 {
	switch w {
	case WakefulnessAsleep:
		return 0
	case WakefulnessDozing:
		return 1
	case WakefulnessDreaming:
		return 2
	case WakefulnessAwake:
		return 3
	}
	return -1
}

// Wakefulness transition events. The transition table is the complete set
// of legal moves; goToSleep always passes through dozing before asleep.
const (
	eventWake            = "wake"
	eventNap             = "nap"
	eventGoToSleep       = "go_to_sleep"
	eventReallyGoToSleep = "really_go_to_sleep"
)

func wakefulnessTransitions() []fsm.EventDesc {
	return []fsm.EventDesc{
		{Name: eventWake, Src: []string{string(WakefulnessDreaming), string(WakefulnessDozing), string(WakefulnessAsleep)}, Dst: string(WakefulnessAwake)},
		{Name: eventNap, Src: []string{string(WakefulnessAwake)}, Dst: string(WakefulnessDreaming)},
		{Name: eventGoToSleep, Src: []string{string(WakefulnessAwake), string(WakefulnessDreaming)}, Dst: string(WakefulnessDozing)},
		{Name: eventReallyGoToSleep, Src: []string{string(WakefulnessDozing)}, Dst: string(WakefulnessAsleep)},
	}
}

// SleepReason records why the device went to sleep, for logging and the
// status API.
type SleepReason string

const (
	SleepReasonUser        SleepReason = "user"
	SleepReasonTimeout     SleepReason = "timeout"
	SleepReasonDeviceAdmin SleepReason = "device-admin"
	SleepReasonBattery     SleepReason = "battery"
)

// WakeReason records why the device woke up.
type WakeReason string

const (
	WakeReasonUser     WakeReason = "user"
	WakeReasonWakeLock WakeReason = "wake-lock"
	WakeReasonPlug     WakeReason = "plug"
	WakeReasonDock     WakeReason = "dock"
)

// dirtyFlags is the bitmask of state categories changed since the last
// reconciliation pass. Every externally observable mutation sets at least
// one bit before the next pass, or the pass will not observe it.
type dirtyFlags uint32

const (
	dirtyWakeLocks dirtyFlags = 1 << iota
	dirtyWakefulness
	dirtyUserActivity
	dirtyDisplayReady
	dirtyBootCompleted
	dirtySettings
	dirtyIsPowered
	dirtyStayOn
	dirtyBattery
	dirtyProximityPositive
	dirtyDock
)

func (d dirtyFlags) String() string {
	if d == 0 {
		return "none"
	}
	names := []struct {
		flag dirtyFlags
		name string
	}{
		{dirtyWakeLocks, "wake-locks"},
		{dirtyWakefulness, "wakefulness"},
		{dirtyUserActivity, "user-activity"},
		{dirtyDisplayReady, "display-ready"},
		{dirtyBootCompleted, "boot-completed"},
		{dirtySettings, "settings"},
		{dirtyIsPowered, "is-powered"},
		{dirtyStayOn, "stay-on"},
		{dirtyBattery, "battery"},
		{dirtyProximityPositive, "proximity"},
		{dirtyDock, "dock"},
	}
	var set []string
	for _, n := range names {
		if d&n.flag != 0 {
			set = append(set, n.name)
		}
	}
	return strings.Join(set, "|")
}

// summaryFlags is the aggregate contribution of all live wake locks,
// filtered by the current wakefulness.
type summaryFlags uint32

const (
	// summaryCPU keeps the CPU running.
	summaryCPU summaryFlags = 1 << iota
	// summaryScreenBright keeps the screen at full brightness.
	summaryScreenBright
	// summaryScreenDim keeps the screen on, possibly dimmed.
	summaryScreenDim
	// summaryProximityScreenOff arms the proximity screen-off behavior.
	summaryProximityScreenOff
	// summaryDoze holds the device in dozing instead of falling asleep.
	summaryDoze
)

func (s summaryFlags) String() string {
	if s == 0 {
		return "none"
	}
	names := []struct {
		flag summaryFlags
		name string
	}{
		{summaryCPU, "cpu"},
		{summaryScreenBright, "screen-bright"},
		{summaryScreenDim, "screen-dim"},
		{summaryProximityScreenOff, "proximity-screen-off"},
		{summaryDoze, "doze"},
	}
	var set []string
	for _, n := range names {
		if s&n.flag != 0 {
			set = append(set, n.name)
		}
	}
	return strings.Join(set, "|")
}

// activityFlags is the user-activity phase of the screen timeout.
type activityFlags uint32

const (
	// activityBright means recent activity keeps the screen bright.
	activityBright activityFlags = 1 << iota
	// activityDim means the bright phase expired and the screen dims as a
	// warning before turning off.
	activityDim
	// activityDream means dozing keeps a restricted display alive with no
	// activity timeout.
	activityDream
)

func (a activityFlags) String() string {
	switch {
	case a&activityBright != 0:
		return "bright"
	case a&activityDim != 0:
		return "dim"
	case a&activityDream != 0:
		return "dream"
	default:
		return "none"
	}
}
