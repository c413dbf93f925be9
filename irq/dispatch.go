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
	"hartirq/platform"
)

// HandleExternal services one external interrupt on hart.
//
// It claims the pending source, runs its driver handler,
// wakes the longest waiting task (if any) and completes
// the claim, all under the manager lock. With nothing
// pending it does nothing.
//
// An unknown source is returned as a Fault and is left
// claimed; the caller's policy decides what happens next.
func (manager *Manager) HandleExternal(hart platform.Hart) error {
	manager.Lock()

	source := manager.controller.Current(hart)
	if source == platform.NoSource {
		manager.Unlock()
		return nil
	}

	handler, ok := manager.table[source]
	if !ok || handler == nil {
		manager.Unlock()
		return &Fault{Kind: FaultUnknownIrq, Hart: hart, Source: source}
	}

	// Acknowledge the device first.
	handler.HandlerInterrupt()

	var fault error
	queue := manager.queues[source]
	if queue != nil {
		queue.dispatched++
	}

	task, woken := manager.Dequeue(source)
	if woken {
		if err := manager.scheduler.AddTask(task); err != nil {
			fault = &Fault{Kind: FaultInvariant, Hart: hart, Source: source, Err: err}
		} else if queue != nil {
			queue.woken++
		}
	} else if queue != nil {
		queue.unmatched++
	}

	manager.controller.Clear(source, hart)
	manager.Unlock()

	if woken && fault == nil {
		manager.logger.Debug().
			Int("hart", int(hart)).
			Int("source", int(source)).
			Int("task", int(task.Id())).
			Log("task woken")
	} else if !woken {
		if _, ok := manager.limiter.Allow(source); !ok {
			return fault
		}
		manager.logger.Debug().
			Int("hart", int(hart)).
			Int("source", int(source)).
			Log("interrupt with no waiting task")
	}

	return fault
}
