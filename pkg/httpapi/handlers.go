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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/power"
	"github.com/powerframe/powerd/pkg/wakelock"
)

type statusResponse struct {
	Power   power.Status   `json:"power"`
	Display display.Status `json:"display"`
}

func (s *Server) handleStatus(c *gin.Context) {
	s.renderJSON(c, http.StatusOK, statusResponse{
		Power:   s.coordinator.StatusSnapshot(),
		Display: s.display.Status(),
	})
}

type workSourceEntry struct {
	UID int `json:"uid"`
	PID int `json:"pid"`
}

func toWorkSource(entries []workSourceEntry) wakelock.WorkSource {
	if len(entries) == 0 {
		return nil
	}
	ws := make(wakelock.WorkSource, 0, len(entries))
	for _, e := range entries {
		ws = append(ws, platform.ClientID{UID: e.UID, PID: e.PID})
	}
	return ws
}

type acquireWakeLockRequest struct {
	Level               string            `json:"level"`
	Tag                 string            `json:"tag"`
	UID                 int               `json:"uid"`
	PID                 int               `json:"pid"`
	AcquireCausesWakeup bool              `json:"acquireCausesWakeup"`
	OnAfterRelease      bool              `json:"onAfterRelease"`
	WorkSource          []workSourceEntry `json:"workSource"`
}

func (s *Server) handleAcquireWakeLock(c *gin.Context) {
	var req acquireWakeLockRequest
	if !s.decodeJSON(c, &req) {
		return
	}

	level, err := wakelock.ParseLevel(req.Level)
	if err != nil {
		s.renderJSON(c, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var flags wakelock.Flags
	if req.AcquireCausesWakeup {
		flags |= wakelock.FlagAcquireCausesWakeup
	}
	if req.OnAfterRelease {
		flags |= wakelock.FlagOnAfterRelease
	}

	handle := wakelock.NewHandle()
	owner := platform.ClientID{UID: req.UID, PID: req.PID}
	if err := s.coordinator.AcquireWakeLock(handle, level, flags, req.Tag, owner, toWorkSource(req.WorkSource)); err != nil {
		s.renderJSON(c, http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.renderJSON(c, http.StatusCreated, gin.H{"handle": string(handle)})
}

func (s *Server) handleReleaseWakeLock(c *gin.Context) {
	handle := wakelock.Handle(c.Param("handle"))

	var flags wakelock.ReleaseFlags
	if c.Query("waitForNegativeProximity") == "true" {
		flags |= wakelock.ReleaseFlagWaitForNegativeProximity
	}

	if err := s.coordinator.ReleaseWakeLock(handle, flags); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, wakelock.ErrUnknownHandle) {
			status = http.StatusNotFound
		}
		s.renderJSON(c, status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type updateWorkSourceRequest struct {
	WorkSource []workSourceEntry `json:"workSource"`
}

func (s *Server) handleUpdateWorkSource(c *gin.Context) {
	handle := wakelock.Handle(c.Param("handle"))

	var req updateWorkSourceRequest
	if !s.decodeJSON(c, &req) {
		return
	}

	if err := s.coordinator.UpdateWakeLockWorkSource(handle, toWorkSource(req.WorkSource)); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, wakelock.ErrUnknownHandle) {
			status = http.StatusNotFound
		}
		s.renderJSON(c, status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type userActivityRequest struct {
	NoChangeLights bool `json:"noChangeLights"`
}

func (s *Server) handleUserActivity(c *gin.Context) {
	var req userActivityRequest
	if c.Request.ContentLength > 0 && !s.decodeJSON(c, &req) {
		return
	}
	s.coordinator.UserActivity(time.Now(), req.NoChangeLights)
	c.Status(http.StatusAccepted)
}

type wakeupRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleWakeup(c *gin.Context) {
	var req wakeupRequest
	if c.Request.ContentLength > 0 && !s.decodeJSON(c, &req) {
		return
	}

	reason := power.WakeReasonUser
	switch power.WakeReason(req.Reason) {
	case "":
	case power.WakeReasonUser, power.WakeReasonWakeLock, power.WakeReasonPlug, power.WakeReasonDock:
		reason = power.WakeReason(req.Reason)
	default:
		s.renderJSON(c, http.StatusBadRequest, gin.H{"error": "unknown wake reason: " + req.Reason})
		return
	}

	s.coordinator.Wakeup(time.Now(), reason)
	c.Status(http.StatusAccepted)
}

type sleepRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSleep(c *gin.Context) {
	var req sleepRequest
	if c.Request.ContentLength > 0 && !s.decodeJSON(c, &req) {
		return
	}

	reason := power.SleepReasonUser
	switch power.SleepReason(req.Reason) {
	case "":
	case power.SleepReasonUser, power.SleepReasonTimeout, power.SleepReasonDeviceAdmin, power.SleepReasonBattery:
		reason = power.SleepReason(req.Reason)
	default:
		s.renderJSON(c, http.StatusBadRequest, gin.H{"error": "unknown sleep reason: " + req.Reason})
		return
	}

	s.coordinator.GoToSleep(time.Now(), reason)
	c.Status(http.StatusAccepted)
}

func (s *Server) handleNap(c *gin.Context) {
	s.coordinator.Nap(time.Now())
	c.Status(http.StatusAccepted)
}

func (s *Server) handleBoost(c *gin.Context) {
	s.coordinator.BoostScreenBrightness(time.Now())
	c.Status(http.StatusAccepted)
}

type temporaryBrightnessRequest struct {
	Brightness *float64 `json:"brightness"`
	Adjustment *float64 `json:"adjustment"`
}

// handleTemporaryBrightness feeds the slider-drag overrides. They live in
// the display pipeline only; persisting the final value goes through the
// settings endpoint, which also clears them.
func (s *Server) handleTemporaryBrightness(c *gin.Context) {
	var req temporaryBrightnessRequest
	if !s.decodeJSON(c, &req) {
		return
	}
	if req.Brightness == nil && req.Adjustment == nil {
		s.renderJSON(c, http.StatusBadRequest, gin.H{"error": "brightness or adjustment required"})
		return
	}

	if req.Brightness != nil {
		s.display.SetTemporaryBrightness(*req.Brightness)
	}
	if req.Adjustment != nil {
		s.display.SetTemporaryAutoBrightnessAdjustment(*req.Adjustment)
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleClearTemporary(c *gin.Context) {
	s.display.ClearTemporaryOverrides()
	c.Status(http.StatusNoContent)
}

type updateSettingsRequest struct {
	ScreenOffTimeoutSeconds  *float64  `json:"screenOffTimeoutSeconds"`
	StayOnWhilePluggedIn     *[]string `json:"stayOnWhilePluggedIn"`
	ScreenBrightness         *float64  `json:"screenBrightness"`
	BrightnessMode           *string   `json:"brightnessMode"`
	AutoBrightnessAdjustment *float64  `json:"autoBrightnessAdjustment"`
	DreamsEnabled            *bool     `json:"dreamsEnabled"`
	DreamsActivateOnSleep    *bool     `json:"dreamsActivateOnSleep"`
	DreamsActivateOnDock     *bool     `json:"dreamsActivateOnDock"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if !s.decodeJSON(c, &req) {
		return
	}

	if req.BrightnessMode != nil {
		mode := config.BrightnessMode(*req.BrightnessMode)
		if mode != config.BrightnessModeManual && mode != config.BrightnessModeAutomatic {
			s.renderJSON(c, http.StatusBadRequest, gin.H{"error": "unknown brightness mode: " + *req.BrightnessMode})
			return
		}
	}

	err := s.settings.Update(c.Request.Context(), func(settings *config.Settings) {
		if req.ScreenOffTimeoutSeconds != nil {
			settings.ScreenOffTimeout = time.Duration(*req.ScreenOffTimeoutSeconds * float64(time.Second))
		}
		if req.StayOnWhilePluggedIn != nil {
			settings.StayOnWhilePluggedIn = *req.StayOnWhilePluggedIn
		}
		if req.ScreenBrightness != nil {
			settings.ScreenBrightness = *req.ScreenBrightness
		}
		if req.BrightnessMode != nil {
			settings.BrightnessMode = config.BrightnessMode(*req.BrightnessMode)
		}
		if req.AutoBrightnessAdjustment != nil {
			settings.AutoBrightnessAdjustment = *req.AutoBrightnessAdjustment
		}
		if req.DreamsEnabled != nil {
			settings.DreamsEnabled = *req.DreamsEnabled
		}
		if req.DreamsActivateOnSleep != nil {
			settings.DreamsActivateOnSleep = *req.DreamsActivateOnSleep
		}
		if req.DreamsActivateOnDock != nil {
			settings.DreamsActivateOnDock = *req.DreamsActivateOnDock
		}
	})
	if err != nil {
		s.renderJSON(c, http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.renderJSON(c, http.StatusOK, s.settings.Get())
}

type dockRequest struct {
	Docked bool `json:"docked"`
}

func (s *Server) handleDock(c *gin.Context) {
	var req dockRequest
	if !s.decodeJSON(c, &req) {
		return
	}
	s.coordinator.SetDocked(req.Docked)
	c.Status(http.StatusAccepted)
}

type lowPowerRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleLowPower(c *gin.Context) {
	var req lowPowerRequest
	if !s.decodeJSON(c, &req) {
		return
	}
	s.coordinator.SetLowPowerMode(req.Enabled)
	c.Status(http.StatusAccepted)
}
