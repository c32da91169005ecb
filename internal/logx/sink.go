// Copyright 2023 Kami
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

package logx

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// zapSink applies a batch of Records through a *zap.Logger core — a
// stdout console core or a lumberjack-rotated file core, per the
// logger_sink configuration knob (§6).
type zapSink struct {
	zl *zap.Logger
}

func newZapSink(core zapcore.Core) Sink {
	return &zapSink{zl: zap.New(core)}
}

func (s *zapSink) Write(records []Record) error {
	for _, r := range records {
		fields := []zap.Field{zap.Time("stamp", r.Time)}
		switch r.Level {
		case Info:
			s.zl.Info(r.Msg, fields...)
		case Warning:
			s.zl.Warn(r.Msg, fields...)
		case Error:
			s.zl.Error(r.Msg, fields...)
		case Fatal:
			s.zl.Error(r.Msg, fields...) // never os.Exit from inside the drain goroutine
		}
	}
	return s.zl.Sync()
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// NewStdoutSink is the "stdout" logger_sink.
func NewStdoutSink() Sink {
	core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	return newZapSink(core)
}

// NewFileSink is the "file(<path>_<date>)" logger_sink: path is suffixed
// with today's date and rotated with lumberjack.
func NewFileSink(path string) Sink {
	filename := fmt.Sprintf("%s_%s", path, time.Now().Format("2006-01-02"))
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	core := zapcore.NewCore(consoleEncoder(), zapcore.AddSync(lj), zapcore.DebugLevel)
	return newZapSink(core)
}
