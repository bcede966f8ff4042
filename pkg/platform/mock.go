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
	"sync"
)

// MockPowerHAL records every call for assertions in tests and doubles as a
// simulated HAL for local runs of the daemon.
type MockPowerHAL struct {
	mu sync.Mutex

	ScreenOn     bool
	ScreenBright bool
	Interactive  bool
	AutoSuspend  bool

	HeldBlockers map[string]int

	SetPowerStateCalls int

	// FailNextCall makes the next HAL call return this error once.
	FailNextCall error
}

func NewMockPowerHAL() *MockPowerHAL {
	return &MockPowerHAL{HeldBlockers: make(map[string]int)}
}

func (m *MockPowerHAL) takeFailure() error {
	err := m.FailNextCall
	m.FailNextCall = nil
	return err
}

func (m *MockPowerHAL) SetPowerState(ctx context.Context, screenOn, screenBright bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.ScreenOn = screenOn
	m.ScreenBright = screenBright
	m.SetPowerStateCalls++
	return nil
}

func (m *MockPowerHAL) AcquireSuspendBlocker(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.HeldBlockers[name]++
	return nil
}

func (m *MockPowerHAL) ReleaseSuspendBlocker(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.HeldBlockers[name]--
	return nil
}

func (m *MockPowerHAL) SetInteractive(ctx context.Context, interactive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.Interactive = interactive
	return nil
}

func (m *MockPowerHAL) SetAutoSuspend(ctx context.Context, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.AutoSuspend = enable
	return nil
}

// FailNext makes the next HAL call return err once.
func (m *MockPowerHAL) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailNextCall = err
}

// PowerStateCalls returns how many times SetPowerState succeeded.
func (m *MockPowerHAL) PowerStateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SetPowerStateCalls
}

// BlockerHeld reports whether the named blocker has a positive hold count.
func (m *MockPowerHAL) BlockerHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HeldBlockers[name] > 0
}

// Snapshot returns the current power state under the mock's lock.
func (m *MockPowerHAL) Snapshot() (screenOn, screenBright, interactive, autoSuspend bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ScreenOn, m.ScreenBright, m.Interactive, m.AutoSuspend
}

// MockBatteryProvider is a settable battery state.
type MockBatteryProvider struct {
	mu    sync.Mutex
	plug  PlugType
	level int
}

func NewMockBatteryProvider() *MockBatteryProvider {
	return &MockBatteryProvider{plug: PlugNone, level: 100}
}

func (m *MockBatteryProvider) SetState(plug PlugType, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plug = plug
	m.level = level
}

func (m *MockBatteryProvider) IsPowered(mask PlugType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plug&mask != 0
}

func (m *MockBatteryProvider) PlugType() PlugType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plug
}

func (m *MockBatteryProvider) BatteryLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// MockDreamController tracks dream sessions in memory.
type MockDreamController struct {
	mu sync.Mutex

	dreaming bool
	doze     bool

	StartCalls int
	StopCalls  int

	// EndDreamOnStart makes StartDream succeed but leave IsDreaming false,
	// simulating a dream that exits immediately.
	EndDreamOnStart bool
}

func NewMockDreamController() *MockDreamController {
	return &MockDreamController{}
}

func (m *MockDreamController) StartDream(ctx context.Context, doze bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	m.doze = doze
	m.dreaming = !m.EndDreamOnStart
	return nil
}

func (m *MockDreamController) StopDream(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	m.dreaming = false
	return nil
}

func (m *MockDreamController) IsDreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dreaming
}

// EndDream simulates the dream session terminating on its own.
func (m *MockDreamController) EndDream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dreaming = false
}

// SetEndDreamOnStart toggles the end-immediately behavior under the lock.
func (m *MockDreamController) SetEndDreamOnStart(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndDreamOnStart = v
}

// StopCallCount returns how many times StopDream was invoked.
func (m *MockDreamController) StopCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopCalls
}

// StartCallCount returns how many times StartDream was invoked.
func (m *MockDreamController) StartCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartCalls
}

// WasDoze reports whether the last started session was a doze session.
func (m *MockDreamController) WasDoze() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doze
}

// MockDeathMonitor lets tests kill a linked client explicitly.
type MockDeathMonitor struct {
	mu    sync.Mutex
	links map[ClientID][]func()
}

func NewMockDeathMonitor() *MockDeathMonitor {
	return &MockDeathMonitor{links: make(map[ClientID][]func())}
}

func (m *MockDeathMonitor) Link(owner ClientID, onDeath func()) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[owner] = append(m.links[owner], onDeath)
	idx := len(m.links[owner]) - 1

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if callbacks, ok := m.links[owner]; ok && idx < len(callbacks) {
			callbacks[idx] = nil
		}
	}, nil
}

// Kill fires the death callbacks registered for the owner.
func (m *MockDeathMonitor) Kill(owner ClientID) {
	m.mu.Lock()
	callbacks := m.links[owner]
	m.links[owner] = nil
	m.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// MockLightSensor is a settable ambient light level.
type MockLightSensor struct {
	mu  sync.Mutex
	lux float64
}

func NewMockLightSensor(lux float64) *MockLightSensor {
	return &MockLightSensor{lux: lux}
}

func (m *MockLightSensor) SetLux(lux float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lux = lux
}

func (m *MockLightSensor) AmbientLux() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lux
}

// MockProximitySensor delivers scripted proximity transitions.
type MockProximitySensor struct {
	available bool
	events    chan bool
}

func NewMockProximitySensor(available bool) *MockProximitySensor {
	return &MockProximitySensor{
		available: available,
		events:    make(chan bool, 16),
	}
}

func (m *MockProximitySensor) Available() bool {
	return m.available
}

func (m *MockProximitySensor) Events() <-chan bool {
	return m.events
}

// Send injects a proximity reading; true means positive (covered).
func (m *MockProximitySensor) Send(positive bool) {
	m.events <- positive
}

// MockTemperatureSource is a settable temperature.
type MockTemperatureSource struct {
	mu   sync.Mutex
	temp float64
	err  error
}

func NewMockTemperatureSource(temp float64) *MockTemperatureSource {
	return &MockTemperatureSource{temp: temp}
}

func (m *MockTemperatureSource) Set(temp float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temp = temp
	m.err = err
}

func (m *MockTemperatureSource) Temperature(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temp, m.err
}
