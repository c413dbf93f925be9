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

package sched

import (
	"fmt"
	"sync"
	"sync/atomic"

	"hartirq/platform"
)

// TaskId is a stable index into the task arena.
type TaskId int

const NoTask TaskId = -1

type Status int

const (
	Ready Status = iota
	Running
	Waiting
	Exited
)

func (status Status) String() string {
	switch status {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("status(%d)", int(status))
}

//
// Owner --
//
// Which queue currently holds a task. A task is owned
// by at most one of them at any time; every move between
// queues is a compare-and-swap on this value, so a task
// showing up in two places is caught at the second move.
//
type Owner int32

const (
	// Held by whoever took it (e.g. the blocking protocol
	// between taking the current task and queueing it).
	OwnerNone Owner = iota
	OwnerReady
	OwnerWaitQueue
	OwnerHart
)

func (owner Owner) String() string {
	switch owner {
	case OwnerNone:
		return "none"
	case OwnerReady:
		return "ready-queue"
	case OwnerWaitQueue:
		return "wait-queue"
	case OwnerHart:
		return "hart"
	}
	return fmt.Sprintf("owner(%d)", int32(owner))
}

//
// Context --
//
// The saved, resumable execution context of a task.
//
// A task that is not running is parked receiving on
// resume. Whoever switches to it sends the id of the
// hart it will now run on. The hart field is only ever
// touched by the task's own goroutine.
//
type Context struct {
	resume chan platform.Hart
	hart   platform.Hart
}

func newContext() Context {
	return Context{resume: make(chan platform.Hart, 1)}
}

type Task struct {
	id   TaskId
	name string

	owner atomic.Int32

	// Guards status.
	mu     sync.Mutex
	status Status

	context Context

	// Error returned by the body, once exited.
	err error
}

// NewTask creates a detached task: not in any arena, not
// in any queue, with a parked context.
func NewTask(id TaskId, name string) *Task {
	task := &Task{
		id:      id,
		name:    name,
		context: newContext(),
	}
	task.owner.Store(int32(OwnerNone))
	return task
}

func (task *Task) Id() TaskId {
	return task.id
}

func (task *Task) Name() string {
	return task.name
}

// Lock gives access to the task's own state (status and
// context). It must not be held across Schedule.
func (task *Task) Lock() {
	task.mu.Lock()
}

func (task *Task) Unlock() {
	task.mu.Unlock()
}

// SetStatusLocked requires the task lock.
func (task *Task) SetStatusLocked(status Status) {
	task.status = status
}

// ContextLocked requires the task lock.
func (task *Task) ContextLocked() *Context {
	return &task.context
}

func (task *Task) Status() Status {
	task.mu.Lock()
	defer task.mu.Unlock()
	return task.status
}

func (task *Task) setStatus(status Status) {
	task.mu.Lock()
	task.status = status
	task.mu.Unlock()
}

// Hart returns the hart the task is running on.
// Only meaningful from the task's own body.
func (task *Task) Hart() platform.Hart {
	return task.context.hart
}

func (task *Task) Owner() Owner {
	return Owner(task.owner.Load())
}

// Transfer moves the task from one owner to another.
// It fails if the task is not currently owned by from.
func (task *Task) Transfer(from Owner, to Owner) error {
	if task.owner.CompareAndSwap(int32(from), int32(to)) {
		return nil
	}
	return &OwnershipError{
		Task:   task.id,
		Want:   from,
		Actual: task.Owner(),
		To:     to,
	}
}

// Err returns what the body returned, once it has exited.
func (task *Task) Err() error {
	task.mu.Lock()
	defer task.mu.Unlock()
	return task.err
}
