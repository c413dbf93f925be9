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

//go:build linux

package platform

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

//
// Doorbell --
//
// An idle hart parks on its doorbell. The controller
// rings it when a deliverable interrupt becomes pending
// and the scheduler rings it (via a software interrupt)
// when a task becomes ready.
//
// This is an eventfd in counter mode: rings accumulate
// until the next Wait, so a ring that happens before the
// hart parks is never lost.
//
// Wait is a blocking system call. We only ever have one
// waiter per doorbell (its hart), so that costs us one
// system thread per idle hart and nothing more.
//
type Doorbell struct {
	// Underlying fd.
	fd int

	// Set on Close.
	closed atomic.Bool
}

func NewDoorbell() (*Doorbell, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Doorbell{fd: fd}, nil
}

func (bell *Doorbell) Ring() error {
	if bell.closed.Load() {
		return DoorbellClosed
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(bell.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Wait blocks until the doorbell has been rung at least
// once, and returns the number of rings it consumed.
func (bell *Doorbell) Wait() (uint64, error) {
	if bell.closed.Load() {
		return 0, DoorbellClosed
	}

	var buf [8]byte
	for {
		_, err := unix.Read(bell.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// Close releases the fd. A hart blocked in Wait is not
// woken by this; ring the doorbell first.
func (bell *Doorbell) Close() error {
	if !bell.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(bell.fd)
}
