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

package machine

import (
	"hartirq/platform"
	"hartirq/sched"
	"hartirq/utils"
)

// Raiser asserts an interrupt line on behalf of a device.
type Raiser interface {
	Raise(source platform.Source) error
}

// Waiter blocks task, the caller, until source interrupts.
// arm runs once the task is queued; see irq.Manager.
type Waiter interface {
	WaitForIrq(task *sched.Task, source platform.Source, arm func()) error
}

type Device interface {
	Name() string
	Driver() string

	// The interrupt source, or NoSource.
	Interrupt() platform.Source

	// Acknowledge an interrupt. Called with the
	// interrupt manager lock held; must not block.
	HandlerInterrupt()

	Attach(model *Model) error
	Close() error

	IsDebugging() bool
	SetDebugging(debug bool)
}

type BaseDevice struct {
	// Pointer to original device info.
	info *DeviceInfo

	logger *utils.Logger
}

func (device *BaseDevice) Init(info *DeviceInfo) error {
	// Save our original device info.
	// This is for convenience in implementing Name()
	// IsDebugging() only and isn't structural.
	device.info = info
	return nil
}

func (device *BaseDevice) Name() string {
	return device.info.Name
}

func (device *BaseDevice) Driver() string {
	return device.info.Driver
}

func (device *BaseDevice) IsDebugging() bool {
	return device.info.Debug
}

func (device *BaseDevice) SetDebugging(debug bool) {
	device.info.Debug = debug
}

func (device *BaseDevice) Attach(model *Model) error {
	device.logger = model.logger
	return nil
}

func (device *BaseDevice) Close() error {
	return nil
}

// debug logs only for devices with debugging on.
func (device *BaseDevice) debug(msg string, source platform.Source) {
	if device.info == nil || !device.info.Debug {
		return
	}
	device.logger.Info().
		Str("device", device.Name()).
		Int("source", int(source)).
		Log(msg)
}
