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
	"context"
	"fmt"

	"hartirq/platform"
	"hartirq/utils"
)

// Bell is what an idle hart parks on.
type Bell interface {
	Wait() (uint64, error)
}

type hart struct {
	id platform.Hart

	// The task switched onto this hart, if any.
	current TaskId

	// A task hands the hart back through here,
	// either from Schedule or on exit.
	switched chan struct{}
}

//
// Scheduler --
//
// A task arena, a ready queue and a set of harts.
//
// Tasks are goroutines, but only one task runs on a hart
// at a time: the hart goroutine switches to a task by
// resuming its context and then waits until the task
// switches back. Queues hold task ids, never pointers.
//
// Everything here that an interrupt handler may call
// (AddTask, Task) only takes the spin lock.
//
type Scheduler struct {
	lock platform.SpinMutex

	tasks []*Task
	ready Queue
	harts []*hart

	// Wakes an idle hart (a software interrupt).
	wake func(platform.Hart)

	logger *utils.Logger
}

func New(harts int, wake func(platform.Hart), logger *utils.Logger) *Scheduler {
	s := &Scheduler{
		harts:  make([]*hart, harts),
		wake:   wake,
		logger: logger,
	}
	for i := range s.harts {
		s.harts[i] = &hart{
			id:       platform.Hart(i),
			current:  NoTask,
			switched: make(chan struct{}, 1),
		}
	}
	return s
}

func (s *Scheduler) Harts() int {
	return len(s.harts)
}

// Spawn allocates a task and makes it ready.
func (s *Scheduler) Spawn(name string, body func(task *Task) error) *Task {
	s.lock.Lock()
	task := NewTask(TaskId(len(s.tasks)), name)
	s.tasks = append(s.tasks, task)
	s.lock.Unlock()

	go s.enter(task, body)

	// Fresh tasks are owned by nobody.
	// This can't fail.
	s.AddTask(task)

	s.logger.Debug().
		Int("task", int(task.id)).
		Str("name", name).
		Log("task spawned")

	return task
}

func (s *Scheduler) enter(task *Task, body func(task *Task) error) {
	// Wait to be switched onto a hart.
	task.context.hart = <-task.context.resume

	err := s.call(task, body)
	s.exit(task, err)
}

func (s *Scheduler) call(task *Task, body func(task *Task) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.name, r)
		}
	}()
	return body(task)
}

func (s *Scheduler) exit(task *Task, err error) {
	h := s.harts[task.context.hart]
	s.lock.Lock()
	if h.current == task.id {
		h.current = NoTask
		task.Transfer(OwnerHart, OwnerNone)
	}
	s.lock.Unlock()

	task.mu.Lock()
	task.status = Exited
	task.err = err
	task.mu.Unlock()

	if err != nil {
		s.logger.Warning().
			Int("task", int(task.id)).
			Str("name", task.name).
			Err(err).
			Log("task exited with error")
	} else {
		s.logger.Debug().
			Int("task", int(task.id)).
			Str("name", task.name).
			Log("task exited")
	}

	// Hand the hart back for good.
	h.switched <- struct{}{}
}

// Task looks up a task by id, nil if there is none.
func (s *Scheduler) Task(id TaskId) *Task {
	s.lock.Lock()
	defer s.lock.Unlock()

	if id < 0 || int(id) >= len(s.tasks) {
		return nil
	}
	return s.tasks[id]
}

// TakeCurrentTask detaches the task running on hart.
// The caller now holds the only reference to it.
func (s *Scheduler) TakeCurrentTask(hart platform.Hart) (*Task, bool) {
	if int(hart) >= len(s.harts) {
		return nil, false
	}

	s.lock.Lock()
	h := s.harts[hart]
	id := h.current
	if id == NoTask {
		s.lock.Unlock()
		return nil, false
	}
	h.current = NoTask
	task := s.tasks[id]
	s.lock.Unlock()

	if err := task.Transfer(OwnerHart, OwnerNone); err != nil {
		return nil, false
	}
	return task, true
}

// TakeTask detaches task from the hart it is running on.
// Nothing changes unless task is that hart's current task:
// NoCurrentTask if the hart is idle, NotCurrent if some
// other task is running there.
func (s *Scheduler) TakeTask(task *Task) error {
	if task == nil {
		return InvalidTask
	}
	hart := task.Hart()
	if int(hart) >= len(s.harts) {
		return platform.InvalidHart
	}

	s.lock.Lock()
	h := s.harts[hart]
	switch h.current {
	case NoTask:
		s.lock.Unlock()
		return NoCurrentTask
	case task.id:
	default:
		s.lock.Unlock()
		return fmt.Errorf("%w: task %d, hart %d runs %d",
			NotCurrent, task.id, hart, h.current)
	}
	h.current = NoTask
	s.lock.Unlock()

	return task.Transfer(OwnerHart, OwnerNone)
}

// Current returns the id of the task running on hart.
func (s *Scheduler) Current(hart platform.Hart) TaskId {
	if int(hart) >= len(s.harts) {
		return NoTask
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.harts[hart].current
}

// AddTask puts a detached task on the ready queue.
// Safe to call from an interrupt handler.
func (s *Scheduler) AddTask(task *Task) error {
	if task == nil {
		return InvalidTask
	}
	if err := task.Transfer(OwnerNone, OwnerReady); err != nil {
		return err
	}
	task.setStatus(Ready)

	s.lock.Lock()
	s.ready.Push(task.id)
	idle := make([]platform.Hart, 0, len(s.harts))
	for _, h := range s.harts {
		if h.current == NoTask {
			idle = append(idle, h.id)
		}
	}
	s.lock.Unlock()

	if s.wake != nil {
		for _, hart := range idle {
			s.wake(hart)
		}
	}
	return nil
}

// Schedule switches away from the calling task, whose
// saved context is cx. It returns once some hart has
// switched back to it.
func (s *Scheduler) Schedule(cx *Context) {
	// The hart we are leaving. Once we're queued somewhere
	// another hart may already have resumed us, which is
	// why it arrives on the channel rather than in a field.
	h := s.harts[cx.hart]
	h.switched <- struct{}{}
	cx.hart = <-cx.resume
}

// Yield moves the calling task to the back of the ready queue.
func (s *Scheduler) Yield(task *Task) error {
	if err := s.TakeTask(task); err != nil {
		return err
	}
	task.mu.Lock()
	cx := &task.context
	task.mu.Unlock()

	if err := s.AddTask(task); err != nil {
		return err
	}
	s.Schedule(cx)
	return nil
}

func (s *Scheduler) next(h *hart) (*Task, bool) {
	s.lock.Lock()
	id, ok := s.ready.Pop()
	if !ok {
		s.lock.Unlock()
		return nil, false
	}
	h.current = id
	task := s.tasks[id]
	s.lock.Unlock()

	if err := task.Transfer(OwnerReady, OwnerHart); err != nil {
		// Not ours to run.
		s.lock.Lock()
		h.current = NoTask
		s.lock.Unlock()
		s.logger.Crit().
			Int("hart", int(h.id)).
			Err(err).
			Log("ready queue corrupted")
		return nil, false
	}
	task.setStatus(Running)
	return task, true
}

// RunHart is the dispatcher loop of one hart.
//
// Between task switches it calls trap, which services
// whatever interrupts are pending for the hart; an error
// from trap stops the hart. With nothing to run, the hart
// parks on bell until it is rung.
func (s *Scheduler) RunHart(
	ctx context.Context,
	hart platform.Hart,
	bell Bell,
	trap func() error) error {

	if int(hart) >= len(s.harts) {
		return platform.InvalidHart
	}
	h := s.harts[hart]

	for {
		// Stopped?
		if ctx.Err() != nil {
			return nil
		}

		// Take interrupts.
		if trap != nil {
			if err := trap(); err != nil {
				return err
			}
		}

		// Anything to run?
		task, ok := s.next(h)
		if !ok {
			if _, err := bell.Wait(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		// Switch to it, and wait for it to switch back.
		task.context.resume <- h.id
		<-h.switched

		s.lock.Lock()
		h.current = NoTask
		s.lock.Unlock()
	}
}

// Info describes a task for introspection.
type Info struct {
	Id     TaskId `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

func (s *Scheduler) Tasks() []Info {
	s.lock.Lock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.lock.Unlock()

	infos := make([]Info, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, Info{
			Id:     task.id,
			Name:   task.name,
			Status: task.Status().String(),
			Owner:  task.Owner().String(),
		})
	}
	return infos
}

// ReadyIds returns the ready queue, head first.
func (s *Scheduler) ReadyIds() []TaskId {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ready.Ids()
}
