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

package backoff

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ID:              "test",
		TickInterval:    100 * time.Millisecond,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxRetries:      3,
	}
}

func TestTransientErrorOpensBackoffWindow(t *testing.T) {
	m := NewBackoffManager(testConfig())

	permanent := m.SetError(errors.New("boom"), 0)
	assert.False(t, permanent)
	assert.True(t, m.ShouldSkipOperation(1))

	err := m.GetBackoffError(1)
	require.Error(t, err)
	assert.True(t, IsTemporaryBackoffError(err))
	assert.False(t, IsPermanentFailureError(err))
	assert.True(t, IsBackoffError(err))
}

func TestConsecutiveErrorsEscalate(t *testing.T) {
	m := NewBackoffManager(testConfig())

	var permanent bool
	for i := 0; i < 10 && !permanent; i++ {
		permanent = m.SetError(errors.New("boom"), uint64(i*100))
	}
	require.True(t, permanent)
	assert.True(t, m.IsPermanentlyFailed())
	assert.True(t, m.ShouldSkipOperation(1_000_000))

	err := m.GetBackoffError(1_000_000)
	assert.True(t, IsPermanentFailureError(err))
}

func TestPermanentCategoryEscalatesImmediately(t *testing.T) {
	m := NewBackoffManager(testConfig())

	root := errors.New("file is garbage")
	permanent := m.SetError(NewPermanentError(root), 0)
	assert.True(t, permanent)
	assert.True(t, m.IsPermanentlyFailed())

	err := m.GetBackoffError(1)
	assert.True(t, IsPermanentFailureError(err))
	assert.Equal(t, root, ExtractOriginalError(err))
}

func TestResetClearsState(t *testing.T) {
	m := NewBackoffManager(testConfig())
	m.SetError(errors.New("boom"), 0)
	require.True(t, m.ShouldSkipOperation(1))

	m.Reset()
	assert.False(t, m.ShouldSkipOperation(1))
	assert.NoError(t, m.GetBackoffError(1))
	assert.False(t, m.IsPermanentlyFailed())
}

func TestCategorizeErrorDefaultsToTransient(t *testing.T) {
	assert.NoError(t, CategorizeError(nil))

	err := CategorizeError(errors.New("boom"))
	assert.True(t, IsTransientError(err))
	assert.False(t, IsIgnoredError(err))

	// Already categorized errors keep their category.
	ignored := CategorizeError(NewIgnoredError(errors.New("expected")))
	assert.True(t, IsIgnoredError(ignored))
}

func TestExtractOriginalErrorUnwrapsChains(t *testing.T) {
	root := errors.New("root")
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", root))
	assert.Equal(t, root, ExtractOriginalError(wrapped))
	assert.Nil(t, ExtractOriginalError(nil))
}
