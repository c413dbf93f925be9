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
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"hartirq/irq"
	"hartirq/machine"
	"hartirq/platform"
	"hartirq/sched"
	"hartirq/utils"
)

//
// System --
//
// Everything that was booted: the controller, one doorbell
// per hart, the scheduler, the devices and the interrupt
// manager tying them together.
//
type System struct {
	plic      *platform.Plic
	bells     []*platform.Doorbell
	scheduler *sched.Scheduler
	model     *machine.Model
	manager   *irq.Manager

	policy irq.Policy

	// Faults raised in task context.
	faults chan error

	logger *utils.Logger
}

func NewSystem(
	board *Board,
	policy irq.Policy,
	input io.Reader,
	output io.Writer,
	debug bool,
	logger *utils.Logger) (*System, error) {

	if board.Harts <= 0 {
		return nil, NoHarts
	}

	system := &System{
		plic:   platform.NewPlic(board.Harts),
		policy: policy,
		faults: make(chan error, board.Harts),
		logger: logger,
	}

	// One doorbell per hart.
	for hart := 0; hart < board.Harts; hart++ {
		bell, err := platform.NewDoorbell()
		if err != nil {
			system.Close()
			return nil, err
		}
		system.bells = append(system.bells, bell)
		err = system.plic.Attach(platform.Hart(hart), bell)
		if err != nil {
			system.Close()
			return nil, err
		}
	}

	// Load all devices.
	system.model = machine.NewModel(system.plic, logger)
	system.model.Input = input
	system.model.Output = output
	err := system.model.CreateDevices(board.Devices, debug)
	if err != nil {
		system.Close()
		return nil, err
	}

	// Idle harts are woken with a software interrupt.
	system.scheduler = sched.New(board.Harts, system.plic.SendSoftware, logger)

	// The dispatch table is fixed from here on.
	system.manager = irq.NewManager(
		system.plic,
		system.scheduler,
		system.model.Table(),
		logger)
	for hart := 0; hart < board.Harts; hart++ {
		system.manager.Init(platform.Hart(hart))
	}

	return system, nil
}

// Spawn starts a task whose faults go to the fault policy.
func (system *System) Spawn(name string, body func(task *sched.Task) error) *sched.Task {
	return system.scheduler.Spawn(name, func(task *sched.Task) error {
		err := body(task)
		if _, ok := irq.AsFault(err); ok {
			system.report(err)
		}
		return err
	})
}

// report queues a task fault for the fault policy. It
// reports false, and logs the fault, if the queue is full.
func (system *System) report(err error) bool {
	select {
	case system.faults <- err:
		return true
	default:
	}
	system.logger.Err().
		Err(err).
		Log("task fault dropped, reporter busy")
	return false
}

// Run runs every hart until ctx is done or a fault stops them.
func (system *System) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for hart := range system.bells {
		hart := platform.Hart(hart)
		group.Go(func() error {
			err := system.Loop(ctx, hart)
			if err != nil {
				return fmt.Errorf("hart %d: %w", hart, err)
			}
			return nil
		})
	}

	// Faults from task context.
	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-system.faults:
				fault, _ := irq.AsFault(err)
				if err := system.handleFault(fault); err != nil {
					return err
				}
			}
		}
	})

	// Parked harts need a ring to notice.
	stop := context.AfterFunc(ctx, system.ringAll)
	defer stop()

	return group.Wait()
}

func (system *System) ringAll() {
	for _, bell := range system.bells {
		bell.Ring()
	}
}

func (system *System) Close() error {
	var errs []error
	if system.model != nil {
		errs = append(errs, system.model.Close())
	}
	for _, bell := range system.bells {
		errs = append(errs, bell.Close())
	}
	return errors.Join(errs...)
}

func (system *System) Model() *machine.Model {
	return system.model
}

func (system *System) Manager() *irq.Manager {
	return system.manager
}

func (system *System) Scheduler() *sched.Scheduler {
	return system.scheduler
}

func (system *System) Plic() *platform.Plic {
	return system.plic
}
