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

package display

import "sync"

// Unblocker is a one-shot token for the screen-on/off handshake. While a
// token is outstanding the pipeline does not report readiness; the consumer
// calls Unblock when its own asynchronous work (such as drawing the first
// frame) completes. A token superseded by a newer transition is abandoned:
// its Unblock becomes a no-op rather than a double release.
type Unblocker struct {
	name string
	once sync.Once
	fire func(*Unblocker)
}

// Unblock completes the handshake. Safe to call more than once and safe to
// call on an abandoned token.
func (u *Unblocker) Unblock() {
	u.once.Do(func() {
		u.fire(u)
	})
}

func newUnblocker(name string, fire func(*Unblocker)) *Unblocker {
	return &Unblocker{name: name, fire: fire}
}
