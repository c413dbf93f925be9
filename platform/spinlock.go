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

package platform

import (
	"runtime"
	"sync/atomic"
)

// Spin this many times before handing the
// processor back to the Go scheduler. The lock
// never parks the caller, so it is usable from
// a hart while it services an interrupt.
const spinsPerYield = 64

//
// SpinMutex --
//
// A test-and-set lock. Critical sections guarded
// by it must be short and must never block.
//
type SpinMutex struct {
	state atomic.Uint32
}

func (lock *SpinMutex) Lock() {
	for spins := 0; ; spins++ {
		// Cheap read first, then the swap.
		if lock.state.Load() == 0 && lock.state.CompareAndSwap(0, 1) {
			return
		}
		if spins >= spinsPerYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

func (lock *SpinMutex) TryLock() bool {
	return lock.state.CompareAndSwap(0, 1)
}

func (lock *SpinMutex) Unlock() {
	if lock.state.Swap(0) == 0 {
		panic("platform: unlock of unlocked SpinMutex")
	}
}
