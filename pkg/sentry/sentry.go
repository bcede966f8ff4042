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

package sentry

import (
	"strings"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/powerframe/powerd/pkg/constants"
)

// InitSentry initializes sentry with the given app version.
// Local development builds (the default version) never report.
func InitSentry(appVersion string) {
	if appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment
	if !strings.Contains(appVersion, "-") {
		environment = constants.DefaultProductionEnvironment
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           "https://6cf0c14d7a0f8a25f3dbb60aa25bd0d5@o4508217212934144.ingest.de.sentry.io/4508217215293440",
		Environment:   environment,
		Release:       "powerd@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
	}
}
