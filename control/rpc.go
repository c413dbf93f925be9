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

package control

import (
	"hartirq/irq"
	"hartirq/machine"
	"hartirq/platform"
	"hartirq/sched"
)

//
// Rpc --
//
// This is basic state provided to the
// Rpc interface. All Rpc functions have
// access to this state (but nothing else).
//
type Rpc struct {
	// Our device model.
	model *machine.Model

	// The interrupt controller.
	plic *platform.Plic

	// Interrupt statistics.
	manager *irq.Manager

	// Task listing.
	scheduler *sched.Scheduler
}

func NewRpc(
	model *machine.Model,
	plic *platform.Plic,
	manager *irq.Manager,
	scheduler *sched.Scheduler) *Rpc {

	return &Rpc{
		model:     model,
		plic:      plic,
		manager:   manager,
		scheduler: scheduler,
	}
}

type Nop struct{}

//
// Interrupt controls.
//

type RaiseRequest struct {
	Source platform.Source `json:"source"`
}

// Raise asserts a source as if its device had.
// A source with no driver ends up as a fault.
func (rpc *Rpc) Raise(req *RaiseRequest, res *Nop) error {
	return rpc.plic.Raise(req.Source)
}

type StatsResult struct {
	Sources []irq.SourceStats `json:"sources"`
}

func (rpc *Rpc) Stats(req *Nop, res *StatsResult) error {
	res.Sources = rpc.manager.Stats()
	return nil
}

//
// State controls.
//

type TasksResult struct {
	Tasks []sched.Info   `json:"tasks"`
	Ready []sched.TaskId `json:"ready"`
}

func (rpc *Rpc) Tasks(req *Nop, res *TasksResult) error {
	res.Tasks = rpc.scheduler.Tasks()
	res.Ready = rpc.scheduler.ReadyIds()
	return nil
}

type DevicesResult struct {
	Devices []machine.DeviceInfo `json:"devices"`
}

func (rpc *Rpc) Devices(req *Nop, res *DevicesResult) error {

	// We let the serialization handle the rest.
	res.Devices = rpc.model.DeviceInfo()
	return nil
}

//
// Console controls.
//

type InputRequest struct {
	// The uart to feed.
	Device string `json:"device"`

	// What it receives.
	Data []byte `json:"data"`
}

func (rpc *Rpc) Input(req *InputRequest, res *Nop) error {
	device, err := rpc.model.Device(req.Device)
	if err != nil {
		return err
	}
	uart, ok := device.(*machine.Uart)
	if !ok {
		return NotAUart
	}
	uart.Feed(req.Data)
	return nil
}
