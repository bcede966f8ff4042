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

package httpapi

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/power"
	"github.com/powerframe/powerd/pkg/wakelock"
)

type fakeCoordinator struct {
	acquired struct {
		handle wakelock.Handle
		level  wakelock.Level
		flags  wakelock.Flags
		tag    string
		owner  platform.ClientID
		ws     wakelock.WorkSource
	}
	acquireErr error

	released     wakelock.Handle
	releaseFlags wakelock.ReleaseFlags
	releaseErr   error

	workSourceHandle wakelock.Handle
	workSource       wakelock.WorkSource
	workSourceErr    error

	userActivity   int
	noChangeLights bool
	wakeReason     power.WakeReason
	sleepReason    power.SleepReason
	naps           int
	boosts         int
	docked         *bool
	lowPower       *bool
}

func (f *fakeCoordinator) StatusSnapshot() power.Status {
	return power.Status{Wakefulness: "awake", BootCompleted: true, WakeLocks: []power.WakeLockStatus{}}
}

func (f *fakeCoordinator) AcquireWakeLock(handle wakelock.Handle, level wakelock.Level, flags wakelock.Flags, tag string, owner platform.ClientID, ws wakelock.WorkSource) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired.handle = handle
	f.acquired.level = level
	f.acquired.flags = flags
	f.acquired.tag = tag
	f.acquired.owner = owner
	f.acquired.ws = ws
	return nil
}

func (f *fakeCoordinator) ReleaseWakeLock(handle wakelock.Handle, flags wakelock.ReleaseFlags) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = handle
	f.releaseFlags = flags
	return nil
}

func (f *fakeCoordinator) UpdateWakeLockWorkSource(handle wakelock.Handle, ws wakelock.WorkSource) error {
	if f.workSourceErr != nil {
		return f.workSourceErr
	}
	f.workSourceHandle = handle
	f.workSource = ws
	return nil
}

func (f *fakeCoordinator) UserActivity(_ time.Time, noChangeLights bool) {
	f.userActivity++
	f.noChangeLights = noChangeLights
}

func (f *fakeCoordinator) Wakeup(_ time.Time, reason power.WakeReason)    { f.wakeReason = reason }
func (f *fakeCoordinator) GoToSleep(_ time.Time, reason power.SleepReason) { f.sleepReason = reason }
func (f *fakeCoordinator) Nap(_ time.Time)                   { f.naps++ }
func (f *fakeCoordinator) BoostScreenBrightness(_ time.Time) { f.boosts++ }
func (f *fakeCoordinator) SetDocked(docked bool)             { f.docked = &docked }
func (f *fakeCoordinator) SetLowPowerMode(enabled bool)      { f.lowPower = &enabled }

type fakeDisplay struct {
	temporary  float64
	adjustment float64
	cleared    int
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{temporary: math.NaN(), adjustment: math.NaN()}
}

func (f *fakeDisplay) Status() display.Status {
	return display.Status{ScreenState: "bright", Ready: true}
}

func (f *fakeDisplay) SetTemporaryBrightness(v float64)               { f.temporary = v }
func (f *fakeDisplay) SetTemporaryAutoBrightnessAdjustment(v float64) { f.adjustment = v }
func (f *fakeDisplay) ClearTemporaryOverrides()                       { f.cleared++ }

type apiHarness struct {
	coordinator *fakeCoordinator
	display     *fakeDisplay
	store       *config.Store
	server      *Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := config.NewStore(filepath.Join(t.TempDir(), "powerd.yaml"))
	require.NoError(t, store.Load(context.Background()))

	h := &apiHarness{
		coordinator: &fakeCoordinator{},
		display:     newFakeDisplay(),
		store:       store,
	}
	h.server = NewServer(h.coordinator, h.display, store)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Power   power.Status   `json:"power"`
		Display display.Status `json:"display"`
	}
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "awake", resp.Power.Wakefulness)
	assert.Equal(t, "bright", resp.Display.ScreenState)
	assert.True(t, resp.Display.Ready)
}

func TestAcquireWakeLock(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/wakelocks",
		`{"level":"full","tag":"video","uid":1000,"pid":42,"acquireCausesWakeup":true,"workSource":[{"uid":1001,"pid":43}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Handle string `json:"handle"`
	}
	require.NoError(t, gojson.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Handle)

	assert.Equal(t, wakelock.LevelFull, h.coordinator.acquired.level)
	assert.Equal(t, "video", h.coordinator.acquired.tag)
	assert.Equal(t, platform.ClientID{UID: 1000, PID: 42}, h.coordinator.acquired.owner)
	assert.NotZero(t, h.coordinator.acquired.flags&wakelock.FlagAcquireCausesWakeup)
	require.Len(t, h.coordinator.acquired.ws, 1)
	assert.Equal(t, platform.ClientID{UID: 1001, PID: 43}, h.coordinator.acquired.ws[0])
}

func TestAcquireWakeLockUnknownLevel(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/wakelocks", `{"level":"nuclear","tag":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseWakeLock(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodDelete, "/api/v1/wakelocks/abc?waitForNegativeProximity=true", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, wakelock.Handle("abc"), h.coordinator.released)
	assert.NotZero(t, h.coordinator.releaseFlags&wakelock.ReleaseFlagWaitForNegativeProximity)
}

func TestReleaseUnknownWakeLockIs404(t *testing.T) {
	h := newAPIHarness(t)
	h.coordinator.releaseErr = wakelock.ErrUnknownHandle

	rec := h.do(t, http.MethodDelete, "/api/v1/wakelocks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWorkSource(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPut, "/api/v1/wakelocks/abc/worksource",
		`{"workSource":[{"uid":1,"pid":2},{"uid":3,"pid":4}]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, wakelock.Handle("abc"), h.coordinator.workSourceHandle)
	assert.Len(t, h.coordinator.workSource, 2)
}

func TestUserActivity(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/useractivity", `{"noChangeLights":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.coordinator.userActivity)
	assert.True(t, h.coordinator.noChangeLights)

	// Body is optional.
	rec = h.do(t, http.MethodPost, "/api/v1/useractivity", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, h.coordinator.userActivity)
}

func TestWakeupAndSleepReasons(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/wakeup", `{"reason":"plug"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, power.WakeReasonPlug, h.coordinator.wakeReason)

	rec = h.do(t, http.MethodPost, "/api/v1/wakeup", `{"reason":"cosmic-rays"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/sleep", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, power.SleepReasonUser, h.coordinator.sleepReason)

	rec = h.do(t, http.MethodPost, "/api/v1/nap", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.coordinator.naps)
}

func TestTemporaryBrightness(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPut, "/api/v1/brightness/temporary", `{"brightness":0.42}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0.42, h.display.temporary)

	rec = h.do(t, http.MethodPut, "/api/v1/brightness/temporary", `{"adjustment":-0.25}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, -0.25, h.display.adjustment)

	rec = h.do(t, http.MethodPut, "/api/v1/brightness/temporary", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/brightness/temporary", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.display.cleared)
}

func TestUpdateSettingsPartial(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPut, "/api/v1/settings",
		`{"screenOffTimeoutSeconds":30,"brightnessMode":"automatic"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := h.store.Get()
	assert.Equal(t, 30*time.Second, got.ScreenOffTimeout)
	assert.Equal(t, config.BrightnessModeAutomatic, got.BrightnessMode)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.5, got.ScreenBrightness)
	assert.True(t, got.DreamsEnabled)
}

func TestUpdateSettingsRejectsUnknownMode(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPut, "/api/v1/settings", `{"brightnessMode":"psychic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, config.BrightnessModeManual, h.store.Get().BrightnessMode)
}

func TestBoostEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/brightness/boost", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.coordinator.boosts)
}

func TestDockAndLowPower(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/dock", `{"docked":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, h.coordinator.docked)
	assert.True(t, *h.coordinator.docked)

	rec = h.do(t, http.MethodPost, "/api/v1/lowpower", `{"enabled":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, h.coordinator.lowPower)
	assert.True(t, *h.coordinator.lowPower)
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
