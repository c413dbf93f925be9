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

package main

import (
	"fmt"
	"hash/crc32"

	"hartirq/machine"
	"hartirq/sched"
)

// ScanDisk reads every sector of block and reports a checksum.
func (system *System) ScanDisk(block *machine.Block) *sched.Task {
	return system.Spawn("scan:"+block.Name(), func(task *sched.Task) error {
		sum := crc32.NewIEEE()
		for sector := uint64(0); sector < block.Sectors; sector++ {
			data, err := block.ReadSector(system.manager, task, sector)
			if err != nil {
				return fmt.Errorf("sector %d: %w", sector, err)
			}
			sum.Write(data)
		}

		system.logger.Info().
			Str("device", block.Name()).
			Int("sectors", int(block.Sectors)).
			Str("crc32", fmt.Sprintf("%08x", sum.Sum32())).
			Log("disk scan done")
		return nil
	})
}

// Echo copies everything uart receives back out of it,
// until it receives an end-of-transmission (^D).
func (system *System) Echo(uart *machine.Uart) *sched.Task {
	return system.Spawn("echo:"+uart.Name(), func(task *sched.Task) error {
		for {
			b, err := uart.ReceiveByte(system.manager, task)
			if err != nil {
				return err
			}
			if b == 0x04 {
				return nil
			}
			if _, err := uart.Write([]byte{b}); err != nil {
				return err
			}
		}
	})
}

// StartTasks starts the stock workload for every device.
func (system *System) StartTasks() []*sched.Task {
	var tasks []*sched.Task
	for _, device := range system.model.Devices() {
		switch device := device.(type) {
		case *machine.Block:
			tasks = append(tasks, system.ScanDisk(device))
		case *machine.Uart:
			tasks = append(tasks, system.Echo(device))
		}
	}
	return tasks
}
