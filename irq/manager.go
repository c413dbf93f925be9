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
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/go-catrate"

	"hartirq/platform"
	"hartirq/sched"
	"hartirq/utils"
)

// Priority given to every registered source.
const SourcePriority = 1

// Controller is the interrupt controller as seen from here.
type Controller interface {
	Enable(source platform.Source, hart platform.Hart)
	SetPriority(priority uint32, source platform.Source)
	SetThreshold(threshold uint32, hart platform.Hart)
	EnableSoftware(hart platform.Hart)

	// Claim the pending source for hart, or NoSource.
	Current(hart platform.Hart) platform.Source

	// Complete a claim.
	Clear(source platform.Source, hart platform.Hart)
}

// Scheduler is the task scheduler as seen from here.
// AddTask must be safe to call from an interrupt handler.
type Scheduler interface {
	// Detach task from its hart, if it is the one running there.
	TakeTask(task *sched.Task) error
	AddTask(task *sched.Task) error
	Schedule(cx *sched.Context)
	Task(id sched.TaskId) *sched.Task
}

// Handler acknowledges a device interrupt. It must be
// safe to call when nobody is waiting.
type Handler interface {
	HandlerInterrupt()
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func()

func (fn HandlerFunc) HandlerInterrupt() {
	fn()
}

//
// Table --
//
// The source to driver dispatch table. It is built once
// at boot and never changes afterwards.
//
type Table map[platform.Source]Handler

// Sources returns the table's sources in ascending order.
func (table Table) Sources() []platform.Source {
	sources := make([]platform.Source, 0, len(table))
	for source := range table {
		sources = append(sources, source)
	}
	slices.Sort(sources)
	return sources
}

type waitQueue struct {
	tasks sched.Queue

	// Counters, guarded by the manager lock.
	dispatched uint64
	woken      uint64
	unmatched  uint64
}

//
// Manager --
//
// One FIFO of waiting tasks per registered source, behind
// a single spin lock shared by the blocking protocol (task
// context) and the dispatcher (interrupt context) on every
// hart.
//
// Register, Inqueue and Dequeue expect the caller to hold
// the lock, which is taken with Lock and dropped with
// Unlock. Nothing done under it blocks.
//
type Manager struct {
	lock platform.SpinMutex

	queues map[platform.Source]*waitQueue

	controller Controller
	scheduler  Scheduler
	table      Table

	// Spurious wakes are expected (a serial line with
	// nobody reading), so their logging is rate limited.
	limiter *catrate.Limiter

	logger *utils.Logger
}

// NewManager builds the process-wide manager. It is done
// once during boot, before any hart takes interrupts.
func NewManager(
	controller Controller,
	scheduler Scheduler,
	table Table,
	logger *utils.Logger) *Manager {

	// Take a private copy; it's fixed from here on.
	fixed := make(Table, len(table))
	for source, handler := range table {
		fixed[source] = handler
	}

	return &Manager{
		queues:     make(map[platform.Source]*waitQueue),
		controller: controller,
		scheduler:  scheduler,
		table:      fixed,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
		logger: logger,
	}
}

func (manager *Manager) Lock() {
	manager.lock.Lock()
}

func (manager *Manager) Unlock() {
	manager.lock.Unlock()
}

// Register enables source for hart and gives it a wait queue.
//
// A source that already has a queue keeps it, waiting tasks
// included; only the controller side is (re)applied. That
// is what a second hart bringing up a shared source does.
//
// Requires the lock.
func (manager *Manager) Register(hart platform.Hart, source platform.Source) {
	manager.controller.Enable(source, hart)
	manager.controller.SetPriority(SourcePriority, source)

	if queue, ok := manager.queues[source]; ok {
		manager.logger.Debug().
			Int("hart", int(hart)).
			Int("source", int(source)).
			Int("waiting", queue.tasks.Len()).
			Log("source already registered, keeping queue")
		return
	}
	manager.queues[source] = new(waitQueue)
}

// Registered reports whether source has a wait queue.
//
// Requires the lock.
func (manager *Manager) Registered(source platform.Source) bool {
	_, ok := manager.queues[source]
	return ok
}

// Inqueue appends task to the tail of source's queue.
// The task must be detached (owned by nobody).
//
// Requires the lock.
func (manager *Manager) Inqueue(source platform.Source, task *sched.Task) error {
	queue, ok := manager.queues[source]
	if !ok {
		return fmt.Errorf("%w: source %d", ErrUnregistered, source)
	}
	if err := task.Transfer(sched.OwnerNone, sched.OwnerWaitQueue); err != nil {
		return err
	}
	queue.tasks.Push(task.Id())
	return nil
}

// Dequeue removes the head of source's queue. It reports
// false when the queue is empty or the source is unknown.
//
// Requires the lock.
func (manager *Manager) Dequeue(source platform.Source) (*sched.Task, bool) {
	queue, ok := manager.queues[source]
	if !ok {
		return nil, false
	}
	for {
		id, ok := queue.tasks.Pop()
		if !ok {
			return nil, false
		}
		task := manager.scheduler.Task(id)
		if task == nil {
			manager.logger.Crit().
				Int("source", int(source)).
				Int("task", int(id)).
				Log("wait queue holds unknown task")
			continue
		}
		if err := task.Transfer(sched.OwnerWaitQueue, sched.OwnerNone); err != nil {
			manager.logger.Crit().
				Int("source", int(source)).
				Err(err).
				Log("wait queue holds foreign task")
			continue
		}
		return task, true
	}
}

// Len returns how many tasks wait on source.
//
// Requires the lock.
func (manager *Manager) Len(source platform.Source) int {
	queue, ok := manager.queues[source]
	if !ok {
		return 0
	}
	return queue.tasks.Len()
}

// Sources returns the registered sources in ascending order.
//
// Requires the lock.
func (manager *Manager) Sources() []platform.Source {
	sources := make([]platform.Source, 0, len(manager.queues))
	for source := range manager.queues {
		sources = append(sources, source)
	}
	slices.Sort(sources)
	return sources
}

// Waiting returns the ids queued on source, head first.
//
// Requires the lock.
func (manager *Manager) Waiting(source platform.Source) []sched.TaskId {
	queue, ok := manager.queues[source]
	if !ok {
		return nil
	}
	return queue.tasks.Ids()
}

// Init brings up interrupts on hart. It is run once per
// hart, before that hart takes interrupts.
func (manager *Manager) Init(hart platform.Hart) {
	manager.controller.EnableSoftware(hart)

	// Admit every registered priority.
	manager.controller.SetThreshold(0, hart)

	manager.Lock()
	for _, source := range manager.table.Sources() {
		manager.Register(hart, source)
	}
	manager.Unlock()

	manager.logger.Info().
		Int("hart", int(hart)).
		Int("sources", len(manager.table)).
		Log("interrupt init ok")
}

// SourceStats is a snapshot of one source's counters.
type SourceStats struct {
	Source     platform.Source `json:"source"`
	Waiting    int             `json:"waiting"`
	Dispatched uint64          `json:"dispatched"`
	Woken      uint64          `json:"woken"`
	Unmatched  uint64          `json:"unmatched"`
}

// Stats returns a snapshot for every registered source.
func (manager *Manager) Stats() []SourceStats {
	manager.Lock()
	defer manager.Unlock()

	stats := make([]SourceStats, 0, len(manager.queues))
	for _, source := range manager.Sources() {
		queue := manager.queues[source]
		stats = append(stats, SourceStats{
			Source:     source,
			Waiting:    queue.tasks.Len(),
			Dispatched: queue.dispatched,
			Woken:      queue.woken,
			Unmatched:  queue.unmatched,
		})
	}
	return stats
}
