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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/logger"
)

const (
	// Component labels.
	ComponentCoordinator     = "power_coordinator"
	ComponentDisplayPipeline = "display_pipeline"
	ComponentWakeLockTable   = "wake_lock_table"
	ComponentSuspendBlocker  = "suspend_blocker"
	ComponentSettings        = "settings_manager"
	ComponentHTTPAPI         = "http_api"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "powerframe"
	subsystem = "powerd"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Reconcile timing.
	reconcileTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_duration_milliseconds",
			Help:      "Time taken to recompute the power state (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance"},
	)

	// Wakefulness state gauge (0=asleep, 1=dozing, 2=dreaming, 3=awake).
	wakefulnessState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wakefulness_state",
			Help:      "Current wakefulness (0=Asleep, 1=Dozing, 2=Dreaming, 3=Awake)",
		},
	)

	// Held wake locks by level.
	wakeLocksHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wake_locks_held",
			Help:      "Number of currently held wake locks by level",
		},
		[]string{"level"},
	)

	// Suspend blocker reference counts.
	suspendBlockerRefs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "suspend_blocker_references",
			Help:      "Reference count of each named suspend blocker",
		},
		[]string{"name"},
	)

	// Screen brightness actually applied (0.0 - 1.0).
	screenBrightness = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "screen_brightness",
			Help:      "Screen brightness currently applied by the display pipeline",
		},
	)

	// Screen state (0=off, 1=doze, 2=dim, 3=bright, 4=vr).
	screenState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "screen_state",
			Help:      "Screen power state applied by the display pipeline (0=Off, 1=Doze, 2=Dim, 3=Bright, 4=VR)",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics server failed: %v", err)
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		logger.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveReconcileTime records the time taken for a power state recomputation.
func ObserveReconcileTime(component, instance string, duration time.Duration) {
	reconcileTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// SetWakefulness updates the wakefulness state gauge.
func SetWakefulness(value float64) {
	wakefulnessState.Set(value)
}

// SetWakeLocksHeld updates the per-level held wake lock gauge.
func SetWakeLocksHeld(level string, count int) {
	wakeLocksHeld.WithLabelValues(level).Set(float64(count))
}

// SetSuspendBlockerRefs updates the reference count gauge for a named blocker.
func SetSuspendBlockerRefs(name string, refs int) {
	suspendBlockerRefs.WithLabelValues(name).Set(float64(refs))
}

// SetScreenBrightness updates the applied brightness gauge.
func SetScreenBrightness(value float64) {
	screenBrightness.Set(value)
}

// SetScreenState updates the applied screen state gauge.
func SetScreenState(value float64) {
	screenState.Set(value)
}
