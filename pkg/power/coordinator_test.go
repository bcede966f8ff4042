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

package power_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/display"
	"github.com/powerframe/powerd/pkg/platform"
	"github.com/powerframe/powerd/pkg/power"
	"github.com/powerframe/powerd/pkg/suspend"
	"github.com/powerframe/powerd/pkg/wakelock"
)

// testClock is an advanceable clock so timeout behavior needs no sleeping.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDisplay records every request the coordinator issues.
type fakeDisplay struct {
	mu       sync.Mutex
	ready    bool
	requests []*display.Request
	waitProx []bool
}

func (f *fakeDisplay) RequestPowerState(req *display.Request, waitForNegativeProximity bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Copy())
	f.waitProx = append(f.waitProx, waitForNegativeProximity)
	return f.ready
}

func (f *fakeDisplay) lastPolicy() display.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return display.PolicyOff
	}
	return f.requests[len(f.requests)-1].Policy
}

func (f *fakeDisplay) lastRequest() *display.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1].Copy()
}

func (f *fakeDisplay) waitProxHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.waitProx...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	started  []power.Wakefulness
	finished []power.Wakefulness
}

func (n *recordingNotifier) OnWakefulnessChangeStarted(w power.Wakefulness) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, w)
}

func (n *recordingNotifier) OnWakefulnessChangeFinished(w power.Wakefulness) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, w)
}

func (n *recordingNotifier) OnUserActivity(time.Time) {}

func (n *recordingNotifier) counts() (started, finished int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.started), len(n.finished)
}

type harness struct {
	hal      *platform.MockPowerHAL
	battery  *platform.MockBatteryProvider
	dreams   *platform.MockDreamController
	deaths   *platform.MockDeathMonitor
	prox     *platform.MockProximitySensor
	store    *config.Store
	disp     *fakeDisplay
	clock    *testClock
	notifier *recordingNotifier
	coord    *power.Coordinator
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(tweak func(*config.Settings)) *harness {
	h := &harness{
		hal:      platform.NewMockPowerHAL(),
		battery:  platform.NewMockBatteryProvider(),
		dreams:   platform.NewMockDreamController(),
		deaths:   platform.NewMockDeathMonitor(),
		prox:     platform.NewMockProximitySensor(true),
		disp:     &fakeDisplay{ready: true},
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
	}

	h.store = config.NewStore(filepath.Join(GinkgoT().TempDir(), "powerd.yaml"))
	Expect(h.store.Load(context.Background())).To(Succeed())
	if tweak != nil {
		Expect(h.store.Update(context.Background(), tweak)).To(Succeed())
	}

	h.coord = power.NewCoordinator(power.Config{
		HAL:              h.hal,
		Battery:          h.battery,
		Dreams:           h.dreams,
		Deaths:           h.deaths,
		Proximity:        h.prox,
		Settings:         h.store,
		Blockers:         suspend.NewRegistry(h.hal),
		Display:          h.disp,
		Notifier:         h.notifier,
		Clock:            h.clock,
		TickInterval:     5 * time.Millisecond,
		WakeOnPlugChange: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		_ = h.coord.Run(ctx)
	}()

	h.coord.BootCompleted()
	return h
}

func (h *harness) stop() {
	h.cancel()
	Eventually(h.done).Should(BeClosed())
}

func (h *harness) sleepFully() {
	h.dreams.SetEndDreamOnStart(true)
	h.coord.GoToSleep(h.clock.Now(), power.SleepReasonUser)
	Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessAsleep))
}

var owner = platform.ClientID{UID: 1000, PID: 321}

var _ = Describe("Coordinator", func() {
	var h *harness

	AfterEach(func() {
		h.stop()
	})

	Describe("wake locks and wakefulness", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("wakes the device when a screen-bright lock is acquired with the wakeup flag", func() {
			h.sleepFully()

			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelScreenBright,
				wakelock.FlagAcquireCausesWakeup, "video", owner, nil)).To(Succeed())

			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAwake))
			status := h.coord.StatusSnapshot()
			Expect(status.WakeLockSummary).To(ContainSubstring("screen-bright"))
			Expect(status.WakeLockSummary).To(ContainSubstring("cpu"))
			Expect(h.disp.lastPolicy()).To(Equal(display.PolicyBright))
		})

		It("releases the CPU suspend blocker when the device sleeps holding a full lock", func() {
			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelFull, 0,
				"game", owner, nil)).To(Succeed())
			Expect(h.hal.BlockerHeld("powerd.wakelocks")).To(BeTrue())

			h.sleepFully()

			// A full lock contributes nothing outside the interactive states,
			// so the asleep device is free to suspend.
			Eventually(func() bool {
				return h.hal.BlockerHeld("powerd.wakelocks")
			}).Should(BeFalse())
			Expect(h.coord.StatusSnapshot().WakeLockSummary).To(Equal("none"))
		})

		It("excludes screen contributions from the summary while asleep", func() {
			h.sleepFully()

			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelScreenDim, 0,
				"background", owner, nil)).To(Succeed())

			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAsleep))
			status := h.coord.StatusSnapshot()
			Expect(status.WakeLockSummary).NotTo(ContainSubstring("screen"))
			Expect(h.disp.lastPolicy()).To(Equal(display.PolicyOff))
		})

		It("keeps the CPU suspend blocker held exactly while a partial lock lives", func() {
			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelPartial, 0,
				"job", owner, nil)).To(Succeed())
			Expect(h.hal.BlockerHeld("powerd.wakelocks")).To(BeTrue())

			Expect(h.coord.ReleaseWakeLock(handle, 0)).To(Succeed())
			Expect(h.hal.BlockerHeld("powerd.wakelocks")).To(BeFalse())
		})

		It("drops a dead owner's CPU contribution on the next pass", func() {
			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelPartial, 0,
				"job", owner, nil)).To(Succeed())
			Expect(h.hal.BlockerHeld("powerd.wakelocks")).To(BeTrue())

			h.deaths.Kill(owner)

			Eventually(func() bool {
				return h.hal.BlockerHeld("powerd.wakelocks")
			}).Should(BeFalse())
			Expect(h.coord.WakeLocks()).To(BeEmpty())
		})

		It("rejects a release of an unknown handle without disturbing state", func() {
			before := h.coord.StatusSnapshot()
			Expect(h.coord.ReleaseWakeLock(wakelock.NewHandle(), 0)).To(HaveOccurred())
			Expect(h.coord.StatusSnapshot().Wakefulness).To(Equal(before.Wakefulness))
		})

		It("rejects unsupported wake lock levels at the boundary", func() {
			h.stop()
			h = newHarness(nil)
			noProx := power.NewCoordinator(power.Config{
				HAL:      platform.NewMockPowerHAL(),
				Battery:  platform.NewMockBatteryProvider(),
				Dreams:   platform.NewMockDreamController(),
				Deaths:   platform.NewMockDeathMonitor(),
				Settings: h.store,
				Blockers: suspend.NewRegistry(platform.NewMockPowerHAL()),
				Display:  &fakeDisplay{ready: true},
			})
			err := noProx.AcquireWakeLock(wakelock.NewHandle(),
				wakelock.LevelProximityScreenOff, 0, "call", owner, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("stale timestamps", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("drops a wake request older than the last sleep transition", func() {
			before := h.clock.Now()
			h.clock.Advance(time.Second)
			h.sleepFully()

			h.coord.Wakeup(before, power.WakeReasonUser)
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAsleep))
		})

		It("drops a sleep request older than the last wake transition", func() {
			before := h.clock.Now()
			h.clock.Advance(time.Second)
			h.sleepFully()
			h.coord.Wakeup(h.clock.Now(), power.WakeReasonUser)
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAwake))

			h.coord.GoToSleep(before, power.SleepReasonUser)
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAwake))
		})
	})

	Describe("going to sleep", func() {
		BeforeEach(func() {
			h = newHarness(func(s *config.Settings) {
				s.DreamsEnabled = false
			})
		})

		It("passes through dozing and reaches asleep when the session is inactive", func() {
			h.coord.GoToSleep(h.clock.Now(), power.SleepReasonUser)
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessDozing))

			// The doze session holds the device in dozing until it ends.
			Eventually(h.dreams.IsDreaming).Should(BeTrue())
			Consistently(h.coord.Wakefulness, 50*time.Millisecond).Should(Equal(power.WakefulnessDozing))

			h.dreams.EndDream()
			Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessAsleep))
		})

		It("dims before the screen-off timeout expires and then sleeps", func() {
			settings := h.store.Get()
			dim := settings.DimDuration()

			h.clock.Advance(settings.ScreenOffTimeout - dim + 500*time.Millisecond)
			Eventually(h.disp.lastPolicy).Should(Equal(display.PolicyDim))
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAwake))

			h.clock.Advance(dim)
			Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessDozing))
		})

		It("stays awake past the timeout while stay-on-while-plugged applies", func() {
			Expect(h.store.Update(context.Background(), func(s *config.Settings) {
				s.StayOnWhilePluggedIn = []string{"ac"}
			})).To(Succeed())
			h.battery.SetState(platform.PlugAC, 80)

			h.clock.Advance(time.Minute)
			Consistently(h.coord.Wakefulness, 100*time.Millisecond).Should(Equal(power.WakefulnessAwake))
		})
	})

	Describe("dreaming", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("naps into a dream session at bedtime when dream-on-sleep applies", func() {
			h.clock.Advance(time.Minute)
			Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessDreaming))
			Eventually(h.dreams.IsDreaming).Should(BeTrue())
			Expect(h.dreams.WasDoze()).To(BeFalse())
		})

		It("force-ends the dream and sleeps when the battery drains past the cutoff", func() {
			h.coord.Nap(h.clock.Now())
			Eventually(h.dreams.IsDreaming).Should(BeTrue())

			// Default cutoff is 5 points below the level at dream start.
			h.battery.SetState(platform.PlugNone, 94)

			Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessAsleep))
			Expect(h.dreams.StopCallCount()).To(BeNumerically(">=", 1))
		})

		It("returns to awake from a dream on wakeup", func() {
			h.coord.Nap(h.clock.Now())
			Eventually(h.dreams.IsDreaming).Should(BeTrue())

			h.clock.Advance(time.Second)
			h.coord.Wakeup(h.clock.Now(), power.WakeReasonUser)
			Expect(h.coord.Wakefulness()).To(Equal(power.WakefulnessAwake))
			Eventually(h.dreams.IsDreaming).Should(BeFalse())
		})
	})

	Describe("power source changes", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("wakes the device when the charger is plugged in while asleep", func() {
			h.sleepFully()

			h.clock.Advance(time.Second)
			h.battery.SetState(platform.PlugAC, 100)

			Eventually(h.coord.Wakefulness).Should(Equal(power.WakefulnessAwake))
		})

		It("does not interrupt a dream when power is connected", func() {
			h.coord.Nap(h.clock.Now())
			Eventually(h.dreams.IsDreaming).Should(BeTrue())

			h.clock.Advance(time.Second)
			h.battery.SetState(platform.PlugUSB, 100)

			Consistently(h.coord.Wakefulness, 100*time.Millisecond).Should(Equal(power.WakefulnessDreaming))
		})
	})

	Describe("proximity", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("arms the proximity sensor in the display request while the lock is held", func() {
			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelProximityScreenOff, 0,
				"call", owner, nil)).To(Succeed())

			Expect(h.disp.lastRequest().UseProximitySensor).To(BeTrue())
		})

		It("keeps the device awake at bedtime while proximity is positive", func() {
			h.coord.OnProximityPositive()

			h.clock.Advance(time.Minute)
			Consistently(h.coord.Wakefulness, 100*time.Millisecond).Should(Equal(power.WakefulnessAwake))

			// Clearing proximity counts as user activity and restarts the
			// timeout rather than sleeping immediately.
			h.coord.OnProximityNegative()
			Consistently(h.coord.Wakefulness, 50*time.Millisecond).Should(Equal(power.WakefulnessAwake))
		})

		It("forwards wait-for-negative-proximity exactly once on release", func() {
			handle := wakelock.NewHandle()
			Expect(h.coord.AcquireWakeLock(handle, wakelock.LevelProximityScreenOff, 0,
				"call", owner, nil)).To(Succeed())
			Expect(h.coord.ReleaseWakeLock(handle, wakelock.ReleaseFlagWaitForNegativeProximity)).To(Succeed())

			history := h.disp.waitProxHistory()
			Expect(history[len(history)-1]).To(BeTrue())

			h.coord.UserActivity(h.clock.Now().Add(time.Millisecond), false)
			history = h.disp.waitProxHistory()
			Expect(history[len(history)-1]).To(BeFalse(), "the flag is consumed by the next request")
		})
	})

	Describe("notifications", func() {
		BeforeEach(func() {
			h = newHarness(func(s *config.Settings) {
				s.DreamsEnabled = false
			})
		})

		It("pairs every change-started with a change-finished once the display is ready", func() {
			h.coord.GoToSleep(h.clock.Now(), power.SleepReasonUser)
			h.clock.Advance(time.Second)
			h.coord.Wakeup(h.clock.Now(), power.WakeReasonUser)

			Eventually(func() bool {
				started, finished := h.notifier.counts()
				return started >= 2 && started == finished
			}).Should(BeTrue())
		})
	})

	Describe("screen-on blocking", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("asks the pipeline to hold the screen-on handshake when configured", func() {
			disp := &fakeDisplay{ready: true}
			blocking := power.NewCoordinator(power.Config{
				HAL:           platform.NewMockPowerHAL(),
				Battery:       platform.NewMockBatteryProvider(),
				Dreams:        platform.NewMockDreamController(),
				Deaths:        platform.NewMockDeathMonitor(),
				Settings:      h.store,
				Blockers:      suspend.NewRegistry(platform.NewMockPowerHAL()),
				Display:       disp,
				BlockScreenOn: true,
			})
			blocking.BootCompleted()

			Expect(disp.lastRequest().BlockScreenOn).To(BeTrue())
			Expect(h.disp.lastRequest().BlockScreenOn).To(BeFalse(),
				"the default configuration leaves the handshake open")
		})
	})

	Describe("brightness boost", func() {
		BeforeEach(func() {
			h = newHarness(nil)
		})

		It("forces the bright policy and expires after the boost duration", func() {
			settings := h.store.Get()
			// Move into the dim phase first.
			h.clock.Advance(settings.ScreenOffTimeout - settings.DimDuration() + 500*time.Millisecond)
			Eventually(h.disp.lastPolicy).Should(Equal(display.PolicyDim))

			h.coord.BoostScreenBrightness(h.clock.Now())
			Expect(h.disp.lastRequest().BoostScreenBrightness).To(BeTrue())
			Expect(h.disp.lastPolicy()).To(Equal(display.PolicyBright))

			h.clock.Advance(6 * time.Second)
			Eventually(func() bool {
				return h.disp.lastRequest().BoostScreenBrightness
			}).Should(BeFalse())
		})
	})
})
