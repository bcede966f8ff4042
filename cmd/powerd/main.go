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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powerframe/powerd/pkg/backoff"
	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/httpapi"
	"github.com/powerframe/powerd/pkg/logger"
	"github.com/powerframe/powerd/pkg/metrics"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/power"
	"github.com/powerframe/powerd/pkg/sentry"
	"github.com/powerframe/powerd/pkg/suspend"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	sentry.InitSentry(appVersion())

	log := logger.For(logger.ComponentCore)
	log.Info("Starting powerd...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := config.NewStore(os.Getenv("POWERD_CONFIG"))
	if err := loadSettings(ctx, store); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(store.Daemon().MetricsAddr)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %v", err)
		}
	}()

	// The simulated platform backs local runs and integration tests; a port
	// to real hardware swaps these constructors and nothing else.
	hal := platform.NewMockPowerHAL()
	battery := platform.NewMockBatteryProvider()
	dreams := platform.NewMockDreamController()
	deaths := platform.NewMockDeathMonitor()
	proximity := platform.NewMockProximitySensor(false)
	light := platform.NewMockLightSensor(450)
	temperature := platform.NewGopsutilTemperatureSource(os.Getenv("POWERD_THERMAL_SENSOR"))

	blockers := suspend.NewRegistry(hal)

	// The display pipeline notifies the coordinator, and the coordinator
	// drives the pipeline. The forwarder breaks the construction cycle.
	callbacks := &displayCallbacks{}
	displayController := display.NewController(display.ControllerConfig{
		HAL:         hal,
		Callbacks:   callbacks,
		Proximity:   proximity,
		Light:       light,
		Temperature: temperature,
		Settings:    store,
		// The simulated policy layer has no first frame to draw; it
		// completes the screen-on handshake as soon as it is asked.
		ScreenOnListener: func(unblock func()) { unblock() },
	})

	coordinator := power.NewCoordinator(power.Config{
		HAL:              hal,
		Battery:          battery,
		Dreams:           dreams,
		Deaths:           deaths,
		Proximity:        proximity,
		Settings:         store,
		Blockers:         blockers,
		Display:          displayController,
		WakeOnPlugChange: true,
		BlockScreenOn:    true,
	})
	callbacks.coordinator = coordinator

	api := httpapi.NewServer(coordinator, displayController, store)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return displayController.Run(runCtx) })
	g.Go(func() error { return coordinator.Run(runCtx) })
	g.Go(func() error { return api.Run(runCtx, store.Daemon().APIAddr) })
	g.Go(func() error {
		statusLogger(runCtx, coordinator)
		return nil
	})

	// The daemon has no boot animation to wait for; the device is usable as
	// soon as the loops are up.
	coordinator.BootCompleted()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "powerd failed: %v", err)
		os.Exit(1)
	}
	log.Info("powerd completed")
}

// loadSettings retries transient load failures (a half-written file from a
// crashed previous run) and gives up immediately on permanent ones.
func loadSettings(ctx context.Context, store *config.Store) error {
	ticker := time.NewTicker(constants.CoordinatorTickInterval)
	defer ticker.Stop()

	var tick uint64
	for {
		err := store.LoadWithRetry(ctx, tick)
		if err == nil {
			return nil
		}
		if backoff.IsPermanentFailureError(err) {
			return backoff.ExtractOriginalError(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick++
		}
	}
}

func appVersion() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return constants.DefaultAppVersion
}

// displayCallbacks forwards pipeline notifications to the coordinator once
// both halves exist.
type displayCallbacks struct {
	coordinator *power.Coordinator
}

func (d *displayCallbacks) OnStateChanged() {
	if d.coordinator != nil {
		d.coordinator.OnStateChanged()
	}
}

func (d *displayCallbacks) OnProximityPositive() {
	if d.coordinator != nil {
		d.coordinator.OnProximityPositive()
	}
}

func (d *displayCallbacks) OnProximityNegative() {
	if d.coordinator != nil {
		d.coordinator.OnProximityNegative()
	}
}

// statusLogger periodically logs a wakefulness snapshot so the journal shows
// what the coordinator was doing around an incident.
func statusLogger(ctx context.Context, coordinator *power.Coordinator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log := logger.For("StatusLogger")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := coordinator.StatusSnapshot()
			log.Infof("wakefulness=%s powered=%t battery=%d%% locks=%d summary=%s display=%s ready=%t",
				status.Wakefulness, status.IsPowered, status.BatteryLevel,
				len(status.WakeLocks), status.WakeLockSummary,
				status.DisplayPolicy, status.DisplayReady)
		}
	}
}
