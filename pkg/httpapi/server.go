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

// Package httpapi exposes the daemon's control surface over HTTP. Clients
// that cannot link against the daemon directly (shell tooling, tests,
// remote debugging) acquire wake locks, inject user activity, and drive
// wake/sleep transitions through it.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/power"
	"github.com/powerframe/powerd/pkg/wakelock"
)

// PowerController is the slice of the coordinator the API consumes.
type PowerController interface {
	StatusSnapshot() power.Status
	AcquireWakeLock(handle wakelock.Handle, level wakelock.Level, flags wakelock.Flags, tag string, owner platform.ClientID, ws wakelock.WorkSource) error
	ReleaseWakeLock(handle wakelock.Handle, flags wakelock.ReleaseFlags) error
	UpdateWakeLockWorkSource(handle wakelock.Handle, ws wakelock.WorkSource) error
	UserActivity(eventTime time.Time, noChangeLights bool)
	Wakeup(eventTime time.Time, reason power.WakeReason)
	GoToSleep(eventTime time.Time, reason power.SleepReason)
	Nap(eventTime time.Time)
	BoostScreenBrightness(eventTime time.Time)
	SetDocked(docked bool)
	SetLowPowerMode(enabled bool)
}

// DisplaySurface is the slice of the display pipeline the API consumes.
type DisplaySurface interface {
	Status() display.Status
	SetTemporaryBrightness(v float64)
	SetTemporaryAutoBrightnessAdjustment(v float64)
	ClearTemporaryOverrides()
}

// Server is the gin-based control API.
type Server struct {
	coordinator PowerController
	display     DisplaySurface
	settings    *config.Store
	log         *zap.SugaredLogger
	engine      *gin.Engine
}

// NewServer builds the API around the coordinator, the display pipeline,
// and the settings store.
func NewServer(coordinator PowerController, displaySurface DisplaySurface, settings *config.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		coordinator: coordinator,
		display:     displaySurface,
		settings:    settings,
		log:         logger.For(logger.ComponentHTTPAPI),
		engine:      gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the underlying HTTP handler, used by tests and by the
// daemon's server setup.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infof("control API listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("API shutdown: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		s.renderJSON(c, http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)

		v1.POST("/wakelocks", s.handleAcquireWakeLock)
		v1.DELETE("/wakelocks/:handle", s.handleReleaseWakeLock)
		v1.PUT("/wakelocks/:handle/worksource", s.handleUpdateWorkSource)

		v1.POST("/useractivity", s.handleUserActivity)
		v1.POST("/wakeup", s.handleWakeup)
		v1.POST("/sleep", s.handleSleep)
		v1.POST("/nap", s.handleNap)

		v1.POST("/brightness/boost", s.handleBoost)
		v1.PUT("/brightness/temporary", s.handleTemporaryBrightness)
		v1.DELETE("/brightness/temporary", s.handleClearTemporary)

		v1.PUT("/settings", s.handleUpdateSettings)
		v1.POST("/dock", s.handleDock)
		v1.POST("/lowpower", s.handleLowPower)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			metrics.IncErrorCount(metrics.ComponentHTTPAPI, c.FullPath())
		}
		s.log.Debugf("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// renderJSON encodes through goccy/go-json rather than gin's default
// renderer so the status snapshot encoding matches the rest of the daemon.
func (s *Server) renderJSON(c *gin.Context, code int, v any) {
	data, err := gojson.Marshal(v)
	if err != nil {
		s.log.Errorf("failed to encode response: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", data)
}

func (s *Server) decodeJSON(c *gin.Context, v any) bool {
	if err := gojson.NewDecoder(c.Request.Body).Decode(v); err != nil {
		s.renderJSON(c, http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
