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
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// IssueType classifies the severity of a reported issue.
type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func sentryLevel(issueType IssueType) sentry.Level {
	switch issueType {
	case IssueTypeWarning:
		return sentry.LevelWarning
	case IssueTypeFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}

// ReportIssue logs the error through the supplied logger and forwards it to
// Sentry. Reporting never blocks the caller.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	if log != nil {
		switch issueType {
		case IssueTypeWarning:
			log.Warnf("%v", err)
		case IssueTypeFatal:
			// Fatal would os.Exit; issues reported here must not kill the
			// reconciliation loop, so log at error level.
			log.Errorf("fatal issue: %v", err)
		default:
			log.Errorf("%v", err)
		}
	}

	event := sentry.NewEvent()
	event.Level = sentryLevel(issueType)
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       err.Error(),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}

// ReportIssuef formats and reports an issue.
func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, format string, args ...interface{}) {
	ReportIssue(fmt.Errorf(format, args...), issueType, log)
}
