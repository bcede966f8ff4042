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

// WakeLockStatus is the external view of one live wake lock.
type WakeLockStatus struct {
	Handle   string `json:"handle"`
	Level    string `json:"level"`
	Tag      string `json:"tag"`
	OwnerUID int    `json:"ownerUid"`
	OwnerPID int    `json:"ownerPid"`
}

// Status is a point-in-time snapshot of the coordinator, served by the
// control API and logged periodically. All fields are plain values; the
// snapshot shares nothing with live coordinator state.
type Status struct {
	Wakefulness         string           `json:"wakefulness"`
	BootCompleted       bool             `json:"bootCompleted"`
	IsPowered           bool             `json:"isPowered"`
	PlugType            string           `json:"plugType"`
	BatteryLevel        int              `json:"batteryLevel"`
	StayOn              bool             `json:"stayOn"`
	Docked              bool             `json:"docked"`
	LowPowerMode        bool             `json:"lowPowerMode"`
	ProximityPositive   bool             `json:"proximityPositive"`
	WakeLockSummary     string           `json:"wakeLockSummary"`
	UserActivitySummary string           `json:"userActivitySummary"`
	DisplayReady        bool             `json:"displayReady"`
	DisplayPolicy       string           `json:"displayPolicy"`
	Dreaming            bool             `json:"dreaming"`
	WakeLocks           []WakeLockStatus `json:"wakeLocks"`
}

// StatusSnapshot builds a Status under the coordinator lock.
func (c *Coordinator) StatusSnapshot() Status {
	locks := c.locks.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Wakefulness:         string(c.Wakefulness()),
		BootCompleted:       c.bootCompleted,
		IsPowered:           c.isPowered,
		PlugType:            c.plugType.String(),
		BatteryLevel:        c.batteryLevel,
		StayOn:              c.stayOn,
		Docked:              c.docked,
		LowPowerMode:        c.lowPowerMode,
		ProximityPositive:   c.proximityPositive,
		WakeLockSummary:     c.wakeLockSummary.String(),
		UserActivitySummary: c.userActivitySummary.String(),
		DisplayReady:        c.displayReady,
		Dreaming:            c.lastObservedDreaming,
		WakeLocks:           make([]WakeLockStatus, 0, len(locks)),
	}
	if c.displayRequest != nil {
		status.DisplayPolicy = c.displayRequest.Policy.String()
	}
	for _, l := range locks {
		status.WakeLocks = append(status.WakeLocks, WakeLockStatus{
			Handle:   string(l.Handle),
			Level:    l.Level.String(),
			Tag:      l.Tag,
			OwnerUID: l.Owner.UID,
			OwnerPID: l.Owner.PID,
		})
	}
	return status
}
