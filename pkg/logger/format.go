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

package logger

import (
	"fmt"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// componentColumnWidth pads the component name so messages line up when
// tailing the daemon's log on a terminal.
const componentColumnWidth = 18

// prettyEncoder renders entries as
//
//	15:04:05.000 [WARN ] display            thermal brightness cap engaged (52.3°C) - temp=52.3
//
// It embeds a console encoder so field accumulation (With, Namespace, all
// the typed Add methods) keeps zap's behavior; only the final line layout is
// overridden.
type prettyEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

// NewPrettyConsoleEncoder builds the human-readable encoder used by the
// PRETTY log format.
func NewPrettyConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &prettyEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		pool:    buffer.NewPool(),
	}
}

func (e *prettyEncoder) Clone() zapcore.Encoder {
	return &prettyEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
	}
}

func (e *prettyEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	line.AppendString(entry.Time.Format("15:04:05.000"))

	line.AppendString(" [")
	line.AppendString(padRight(entry.Level.CapitalString(), 5))
	line.AppendString("] ")

	if entry.LoggerName != "" {
		line.AppendString(padRight(entry.LoggerName, componentColumnWidth))
		line.AppendByte(' ')
	}

	line.AppendString(entry.Message)

	if len(fields) > 0 {
		line.AppendString(" - ")
		appendFields(line, fields)
	}

	if entry.Caller.Defined && entry.Level >= zapcore.WarnLevel {
		line.AppendString(" (")
		line.AppendString(entry.Caller.TrimmedPath())
		line.AppendByte(')')
	}

	line.AppendByte('\n')
	return line, nil
}

func appendFields(line *buffer.Buffer, fields []zapcore.Field) {
	enc := zapcore.NewMapObjectEncoder()
	for i, f := range fields {
		f.AddTo(enc)
		if i > 0 {
			line.AppendString(", ")
		}
		line.AppendString(f.Key)
		line.AppendByte('=')
		line.AppendString(fmt.Sprintf("%v", enc.Fields[f.Key]))
	}
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}
