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
	"fmt"

	"hartirq/irq"
	"hartirq/platform"
)

// Loop runs one hart: tasks, and between them whatever
// external interrupts the controller has for the hart.
func (system *System) Loop(ctx context.Context, hart platform.Hart) error {

	system.logger.Info().
		Int("hart", int(hart)).
		Log("hart running")

	trap := func() error {
		for system.plic.Pending(hart) {
			err := system.manager.HandleExternal(hart)
			if err == nil {
				continue
			}

			fault, ok := irq.AsFault(err)
			if !ok {
				return err
			}
			err = system.handleFault(fault)
			if err != nil {
				return err
			}
		}
		return nil
	}

	return system.scheduler.RunHart(ctx, hart, system.bells[hart], trap)
}

// handleFault applies the fault policy. A nil return
// means the hart keeps going.
func (system *System) handleFault(fault *irq.Fault) error {
	switch system.policy {
	case irq.PolicyContinue:
		system.logger.Err().
			Int("hart", int(fault.Hart)).
			Int("source", int(fault.Source)).
			Str("kind", fault.Kind.String()).
			Err(fault).
			Log("interrupt fault, continuing")

		// Don't leave it claimed.
		if fault.Kind == irq.FaultUnknownIrq {
			system.plic.Clear(fault.Source, fault.Hart)
		}
		return nil

	case irq.PolicyRestart:
		system.logger.Crit().
			Int("hart", int(fault.Hart)).
			Int("source", int(fault.Source)).
			Str("kind", fault.Kind.String()).
			Err(fault).
			Log("interrupt fault, restarting")
		return fmt.Errorf("%w: %w", RestartRequested, fault)
	}

	system.logger.Emerg().
		Int("hart", int(fault.Hart)).
		Int("source", int(fault.Source)).
		Str("kind", fault.Kind.String()).
		Err(fault).
		Log("interrupt fault, halting")
	return fault
}
