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

package irq

import (
	"errors"

	"hartirq/platform"
	"hartirq/sched"
)

// WaitForIrq suspends task until source next interrupts.
// It is called from task itself, which must be the task
// running on its hart; any other task is left alone.
//
// The task is queued before arm runs, and both happen
// under the manager lock, so whatever arm starts (a
// device request, say) cannot be dispatched before the
// task is in place to be woken. arm may be nil.
//
// On return the task has been woken by a dispatch of
// source and switched back onto some hart, possibly not
// the one it left.
func (manager *Manager) WaitForIrq(
	task *sched.Task,
	source platform.Source,
	arm func()) error {

	if task == nil {
		return &Fault{Kind: FaultNoCurrentTask, Source: source}
	}
	hart := task.Hart()

	// Sources are never unregistered, so checking before
	// detaching the task is enough. Checking after would
	// leave us holding a task we can't put anywhere.
	manager.Lock()
	registered := manager.Registered(source)
	manager.Unlock()
	if !registered {
		return &Fault{Kind: FaultUnregistered, Hart: hart, Source: source}
	}

	if err := manager.scheduler.TakeTask(task); err != nil {
		if errors.Is(err, sched.NoCurrentTask) {
			return &Fault{Kind: FaultNoCurrentTask, Hart: hart, Source: source}
		}
		return &Fault{Kind: FaultInvariant, Hart: hart, Source: source, Err: err}
	}

	task.Lock()
	task.SetStatusLocked(sched.Waiting)
	cx := task.ContextLocked()
	task.Unlock()

	manager.Lock()
	if err := manager.Inqueue(source, task); err != nil {
		manager.Unlock()
		return &Fault{Kind: FaultInvariant, Hart: hart, Source: source, Err: err}
	}
	if arm != nil {
		arm()
	}
	manager.Unlock()

	manager.logger.Debug().
		Int("hart", int(hart)).
		Int("source", int(source)).
		Int("task", int(task.Id())).
		Log("task waiting")

	// We're okay. Switch away; the dispatcher puts us back.
	manager.scheduler.Schedule(cx)
	return nil
}
