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

import "time"

// Notifier observes wakefulness transitions. Started fires when the
// transition is decided; Finished fires once the display has converged to
// the new state, so started/finished calls always come in pairs.
//
// Callbacks run with the coordinator's lock held. Implementations must not
// call back into the Coordinator and must return quickly; anything heavier
// than bookkeeping belongs on the implementation's own goroutine.
type Notifier interface {
	OnWakefulnessChangeStarted(target Wakefulness)
	OnWakefulnessChangeFinished(target Wakefulness)
	OnUserActivity(eventTime time.Time)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OnWakefulnessChangeStarted(Wakefulness)  {}
func (NopNotifier) OnWakefulnessChangeFinished(Wakefulness) {}
func (NopNotifier) OnUserActivity(time.Time)                {}

// Clock abstracts time for the coordinator so timeout behavior is testable
// without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
