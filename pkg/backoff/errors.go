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
	"strings"
)

// The classifiers match on the marker substrings rather than error identity
// because backoff errors cross goroutine and fmt.Errorf boundaries where
// errors.Is chains get cut.

// IsTemporaryBackoffError reports whether err marks an operation inside an
// open backoff window. Callers skip the operation and try again next tick.
func IsTemporaryBackoffError(err error) bool {
	return err != nil && strings.Contains(err.Error(), TemporaryBackoffError)
}

// IsPermanentFailureError reports whether err marks an operation that has
// exhausted its retries and will never be attempted again.
func IsPermanentFailureError(err error) bool {
	return err != nil && strings.Contains(err.Error(), PermanentFailureError)
}

// IsBackoffError reports whether err carries either backoff marker.
func IsBackoffError(err error) bool {
	return IsTemporaryBackoffError(err) || IsPermanentFailureError(err)
}

// ExtractOriginalError unwraps err to its root cause, stripping the backoff
// wrapping so logs and Sentry reports show the real failure.
func ExtractOriginalError(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}
