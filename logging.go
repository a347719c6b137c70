// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swallow

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configures the service logger.
type LogOptions struct {
	// File is the log file.  Empty or "stdout" logs to standard output
	// only.  Otherwise the file is rotated by lumberjack.
	File string

	// Level is one of DEBUG, INFO, WARNING (or WARN), ERROR, CRITICAL.
	Level string

	// Format is "text" or "json".
	Format string

	MaxSize    int
	MaxBackups int
	MaxAge     int

	// Console additionally copies everything to standard error, which
	// is what a foreground "start" wants.
	Console bool
}

// ParseLevel maps the level names used in configuration files onto zap
// levels.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "DEBUG", "NOTSET":
		return zapcore.DebugLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zapcore.DPanicLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig())
	}
	return zapcore.NewConsoleEncoder(encoderConfig())
}

// NewLogger builds the service logger.  Everything logged is also kept in
// the returned Log, which backs the log endpoint of the admin API.  The
// returned closer flushes and closes the log file.
func NewLogger(o LogOptions) (*zap.Logger, *Log, io.Closer, error) {
	level, e := ParseLevel(o.Level)
	if e != nil {
		return nil, nil, nil, e
	}
	enc := newEncoder(o.Format)
	ring := NewLog()

	var out zapcore.WriteSyncer
	var closer io.Closer = io.NopCloser(nil)
	if o.File == "" || o.File == "stdout" {
		out = zapcore.Lock(os.Stdout)
	} else {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSize,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAge,
		}
		out = zapcore.AddSync(lj)
		closer = lj
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, out, level),
		zapcore.NewCore(newEncoder("text"), ring, level),
	}
	if o.Console && o.File != "" && o.File != "stdout" {
		cores = append(cores, zapcore.NewCore(newEncoder("text"),
			zapcore.Lock(os.Stderr), level))
	}
	logger := zap.New(zapcore.NewTee(cores...))
	return logger, ring, closer, nil
}

// teeLogger returns a logger writing to both the parent and w.  Jobs use
// this to keep their own log.
func teeLogger(parent *zap.Logger, w zapcore.WriteSyncer) *zap.Logger {
	core := zapcore.NewCore(newEncoder("text"), w, zapcore.DebugLevel)
	return parent.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	}))
}
