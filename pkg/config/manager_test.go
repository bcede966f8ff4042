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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerframe/powerd/pkg/config"
	"github.com/powerframe/powerd/pkg/constants"
	"github.com/powerframe/powerd/pkg/platform"
)

func newStore(t *testing.T) (*config.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "powerd.yaml")
	store := config.NewStore(path)
	require.NoError(t, store.Load(context.Background()))
	return store, path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	store, path := newStore(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	settings := store.Get()
	assert.Equal(t, constants.DefaultScreenOffTimeout, settings.ScreenOffTimeout)
	assert.Equal(t, config.BrightnessModeManual, settings.BrightnessMode)
	assert.True(t, settings.DreamsEnabled)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings: [not a map"), 0o644))

	store := config.NewStore(path)
	assert.Error(t, store.Load(context.Background()))
}

func TestUpdatePersistsAndNotifies(t *testing.T) {
	store, path := newStore(t)

	var notified []config.Settings
	store.OnChange(func(s config.Settings) {
		notified = append(notified, s)
	})

	require.NoError(t, store.Update(context.Background(), func(s *config.Settings) {
		s.ScreenOffTimeout = time.Minute
		s.StayOnWhilePluggedIn = []string{"ac", "usb"}
	}))

	require.Len(t, notified, 1)
	assert.Equal(t, time.Minute, notified[0].ScreenOffTimeout)

	// Survives a reload from disk.
	reread := config.NewStore(path)
	require.NoError(t, reread.Load(context.Background()))
	assert.Equal(t, time.Minute, reread.Get().ScreenOffTimeout)
	assert.Equal(t, platform.PlugAC|platform.PlugUSB, reread.Get().StayOnPlugMask())
}

func TestUpdateClampsOutOfRangeValues(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.Update(context.Background(), func(s *config.Settings) {
		s.ScreenOffTimeout = time.Second
		s.ScreenBrightness = 3.0
		s.AutoBrightnessAdjustment = -7
		s.BrightnessMode = "bogus"
	}))

	settings := store.Get()
	assert.Equal(t, constants.MinimumScreenOffTimeout, settings.ScreenOffTimeout)
	assert.Equal(t, 1.0, settings.ScreenBrightness)
	assert.Equal(t, -1.0, settings.AutoBrightnessAdjustment)
	assert.Equal(t, config.BrightnessModeManual, settings.BrightnessMode)
}

func TestDimDurationIsBoundedByTimeoutRatio(t *testing.T) {
	s := config.Settings{ScreenOffTimeout: 10 * time.Minute}
	assert.Equal(t, constants.ScreenDimDuration, s.DimDuration())

	s.ScreenOffTimeout = constants.MinimumScreenOffTimeout
	expected := time.Duration(float64(constants.MinimumScreenOffTimeout) * constants.MaximumScreenDimRatio)
	assert.Equal(t, expected, s.DimDuration())
}

func TestStayOnPlugMaskIgnoresUnknownNames(t *testing.T) {
	s := config.Settings{StayOnWhilePluggedIn: []string{"ac", "solar"}}
	assert.Equal(t, platform.PlugAC, s.StayOnPlugMask())
}
