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
	"errors"
	"io"
	"os"

	"hartirq/irq"
	"hartirq/platform"
	"hartirq/utils"
)

// Boot-time interrupt sources.
const (
	// DMA0 channel completion, used by block storage.
	SourceBlock platform.Source = 27

	// UARTHS receive.
	SourceUart platform.Source = 33
)

//
// Model --
//
// Our basic machine model.
//
// A fixed set of devices, each with at most one interrupt
// line into the controller. The model builds the dispatch
// table the interrupt manager is created with; the table
// does not change once the harts are running.
//
type Model struct {
	// Where devices raise their interrupts.
	raiser Raiser

	// Console streams, for the uart.
	Input  io.Reader
	Output io.Writer

	// All devices.
	devices []Device

	// Interrupt layout.
	interrupts map[platform.Source]Device

	logger *utils.Logger
}

func NewModel(raiser Raiser, logger *utils.Logger) *Model {

	// Create our model object.
	model := &Model{
		raiser:     raiser,
		Input:      os.Stdin,
		Output:     os.Stdout,
		interrupts: make(map[platform.Source]Device),
		logger:     logger,
	}

	// We're set.
	return model
}

func (model *Model) CreateDevices(infos []DeviceInfo, debug bool) error {

	// Load all devices.
	for _, info := range infos {
		device, err := info.Load()
		if err != nil {
			return err
		}

		if debug {
			// Set our debug param.
			device.SetDebugging(debug)
		}

		model.logger.Debug().
			Str("device", device.Name()).
			Str("driver", device.Driver()).
			Int("source", int(device.Interrupt())).
			Log("loading device")

		err = model.AddDevice(device)
		if err != nil {
			return err
		}
	}

	// We're okay.
	return nil
}

// AddDevice attaches device and claims its interrupt.
func (model *Model) AddDevice(device Device) error {

	for _, other := range model.devices {
		if other.Name() == device.Name() {
			return DeviceConflict
		}
	}

	source := device.Interrupt()
	if source != platform.NoSource {
		if _, ok := model.interrupts[source]; ok {
			return InterruptConflict
		}
	}

	// Try the attach.
	err := device.Attach(model)
	if err != nil {
		return err
	}

	// Add the device to our list.
	model.devices = append(model.devices, device)
	if source != platform.NoSource {
		model.interrupts[source] = device
	}

	return nil
}

func (model *Model) Devices() []Device {
	return model.devices
}

func (model *Model) Device(name string) (Device, error) {
	for _, device := range model.devices {
		if device.Name() == name {
			return device, nil
		}
	}
	return nil, DeviceNotFound
}

// Table is the dispatch table for the interrupt manager.
func (model *Model) Table() irq.Table {
	table := make(irq.Table, len(model.interrupts))
	for source, device := range model.interrupts {
		table[source] = device
	}
	return table
}

func (model *Model) DeviceInfo() []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(model.devices))
	for _, device := range model.devices {
		infos = append(infos, NewDeviceInfo(device))
	}
	return infos
}

// Close stops every device.
func (model *Model) Close() error {
	var errs []error
	for _, device := range model.devices {
		if err := device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
