// Copyright 2014 Google Inc. All rights reserved.
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

package utils

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the logger type passed between packages.
//
// A nil *Logger is valid and discards everything.
type Logger = logiface.Logger[logiface.Event]

var InvalidLogLevel = errors.New("Invalid log level?")

const DefaultLevel = logiface.LevelInformational

var levels = map[string]logiface.Level{
	"emerg":   logiface.LevelEmergency,
	"alert":   logiface.LevelAlert,
	"crit":    logiface.LevelCritical,
	"err":     logiface.LevelError,
	"error":   logiface.LevelError,
	"warning": logiface.LevelWarning,
	"warn":    logiface.LevelWarning,
	"notice":  logiface.LevelNotice,
	"info":    logiface.LevelInformational,
	"debug":   logiface.LevelDebug,
	"trace":   logiface.LevelTrace,
}

// ParseLevel maps a syslog keyword onto a logiface level.
func ParseLevel(name string) (logiface.Level, error) {
	level, ok := levels[name]
	if !ok {
		return logiface.LevelDisabled, fmt.Errorf("%w: %q", InvalidLogLevel, name)
	}
	return level, nil
}

// NewLogger builds a JSON logger writing to writer (stderr if nil).
func NewLogger(writer io.Writer, level logiface.Level) *Logger {
	if writer == nil {
		writer = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(writer),
			stumpy.WithTimeField(`time`),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}
