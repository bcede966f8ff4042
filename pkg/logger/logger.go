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

// Package logger configures the daemon-wide zap logger. Every component
// obtains a named child through For; the level and format come from the
// POWERD_LOG_LEVEL and POWERD_LOG_FORMAT environment variables so a
// misbehaving device can be put into debug logging without a config edit.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel names a zap level in the environment-variable vocabulary.
type LogLevel string

// LogFormat selects the output encoder.
type LogFormat string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	FatalLevel LogLevel = "FATAL"
	// ProductionLevel is an alias for InfoLevel; deployments set it to state
	// intent rather than a specific level.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatJSON emits one structured JSON object per line.
	FormatJSON LogFormat = "JSON"
	// FormatConsole emits zap's plain console encoding.
	FormatConsole LogFormat = "CONSOLE"
	// FormatPretty emits the aligned human-readable encoding, the default
	// when watching the daemon on a terminal.
	FormatPretty LogFormat = "PRETTY"
)

var (
	initOnce    sync.Once
	initialized bool
)

func parseLevel(level LogLevel) zapcore.Level {
	switch LogLevel(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel, ProductionLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func formatFromEnv(fallback LogFormat) LogFormat {
	switch f := LogFormat(strings.ToUpper(os.Getenv("POWERD_LOG_FORMAT"))); f {
	case FormatJSON, FormatConsole, FormatPretty:
		return f
	default:
		return fallback
	}
}

func levelFromEnv(fallback LogLevel) LogLevel {
	if v := os.Getenv("POWERD_LOG_LEVEL"); v != "" {
		return LogLevel(v)
	}
	return fallback
}

func consoleTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a logger writing to stdout with the given level and format.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch logFormat {
	case FormatPretty:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = consoleTimeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = NewPrettyConsoleEncoder(encoderConfig)
	case FormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = consoleTimeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(parseLevel(LogLevel(logLevel))),
	)
	return zap.New(core, zap.AddCaller())
}

// Initialize installs the configured logger as zap's global logger. Safe to
// call more than once; only the first call takes effect.
func Initialize() {
	initOnce.Do(func() {
		level := levelFromEnv(ProductionLevel)
		format := formatFromEnv(FormatPretty)

		l := New(string(level), format)
		l.Info("logger initialized",
			zap.String("level", string(level)),
			zap.String("format", string(format)))

		zap.ReplaceGlobals(l)
		initialized = true
	})
}

// GetLogger returns the global logger, initializing it if needed.
func GetLogger() *zap.Logger {
	if !initialized {
		Initialize()
	}
	return zap.L()
}

// Sync flushes buffered log entries, called on shutdown.
func Sync() error {
	return zap.L().Sync()
}

// For returns the named sugared logger for a component. Use the constants
// from components.go so grep and the log output agree on spelling.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}
	return zap.S().Named(component)
}
