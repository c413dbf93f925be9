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
	"sync"
)

// MaxSource is the largest source id the controller accepts.
const MaxSource Source = 1023

// Ringer wakes a hart.
type Ringer interface {
	Ring() error
}

type plicSource struct {
	priority uint32

	// Asserted by a device, not yet claimed.
	pending bool

	// Claimed by a hart, not yet cleared.
	claimed bool
}

type plicHart struct {
	enabled   map[Source]bool
	threshold uint32

	// Software interrupt enable (the ssoft bit).
	software bool

	bell Ringer
}

//
// Plic --
//
// A platform-level interrupt controller.
//
// A device raises a source, which marks it pending.
// A hart claims the highest-priority pending source that
// it has enabled and whose priority is above its threshold
// (ties go to the lowest id). A claimed source is not
// offered again until the claiming hart clears it, even if
// the device raises it again in the meantime; the new
// request stays pending and is offered after the clear.
//
// Priority zero means "never interrupt".
//
type Plic struct {
	mu sync.Mutex

	sources map[Source]*plicSource
	harts   []*plicHart
}

func NewPlic(harts int) *Plic {
	plic := &Plic{
		sources: make(map[Source]*plicSource),
		harts:   make([]*plicHart, harts),
	}
	for i := range plic.harts {
		plic.harts[i] = &plicHart{enabled: make(map[Source]bool)}
	}
	return plic
}

func (plic *Plic) Harts() int {
	return len(plic.harts)
}

// Attach sets the doorbell rung for hart.
func (plic *Plic) Attach(hart Hart, bell Ringer) error {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return err
	}
	h.bell = bell
	return nil
}

func (plic *Plic) hart(hart Hart) (*plicHart, error) {
	if int(hart) >= len(plic.harts) {
		return nil, InvalidHart
	}
	return plic.harts[hart], nil
}

func (plic *Plic) source(source Source) *plicSource {
	state, ok := plic.sources[source]
	if !ok {
		state = new(plicSource)
		plic.sources[source] = state
	}
	return state
}

func (plic *Plic) Enable(source Source, hart Hart) {
	if source == NoSource || source > MaxSource {
		return
	}

	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return
	}
	h.enabled[source] = true
	plic.source(source)

	// Something may already be waiting.
	plic.kick()
}

func (plic *Plic) Disable(source Source, hart Hart) {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return
	}
	delete(h.enabled, source)
}

func (plic *Plic) SetPriority(priority uint32, source Source) {
	if source == NoSource || source > MaxSource {
		return
	}

	plic.mu.Lock()
	defer plic.mu.Unlock()

	plic.source(source).priority = priority
	plic.kick()
}

func (plic *Plic) SetThreshold(threshold uint32, hart Hart) {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return
	}
	h.threshold = threshold
	plic.kick()
}

// EnableSoftware opens the software interrupt path for hart.
func (plic *Plic) EnableSoftware(hart Hart) {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return
	}
	h.software = true
}

// SendSoftware delivers a software interrupt (an IPI) to hart.
// It is dropped if the hart has not enabled software interrupts.
func (plic *Plic) SendSoftware(hart Hart) {
	plic.mu.Lock()
	h, err := plic.hart(hart)
	if err != nil || !h.software || h.bell == nil {
		plic.mu.Unlock()
		return
	}
	bell := h.bell
	plic.mu.Unlock()

	// Ignore return value.
	bell.Ring()
}

// Raise asserts source on behalf of its device.
func (plic *Plic) Raise(source Source) error {
	if source == NoSource || source > MaxSource {
		return InvalidSource
	}

	plic.mu.Lock()
	defer plic.mu.Unlock()

	plic.source(source).pending = true
	plic.kick()
	return nil
}

// Lower withdraws an unclaimed request for source.
func (plic *Plic) Lower(source Source) {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	if state, ok := plic.sources[source]; ok {
		state.pending = false
	}
}

// Current claims the best deliverable source for hart,
// or returns NoSource if there is none.
func (plic *Plic) Current(hart Hart) Source {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return NoSource
	}

	best := plic.best(h)
	if best != NoSource {
		state := plic.sources[best]
		state.pending = false
		state.claimed = true
	}
	return best
}

// Pending reports whether Current would return a source for hart.
func (plic *Plic) Pending(hart Hart) bool {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	h, err := plic.hart(hart)
	if err != nil {
		return false
	}
	return plic.best(h) != NoSource
}

// Clear completes the claim of source by hart.
func (plic *Plic) Clear(source Source, hart Hart) {
	plic.mu.Lock()
	defer plic.mu.Unlock()

	if _, err := plic.hart(hart); err != nil {
		return
	}
	state, ok := plic.sources[source]
	if !ok || !state.claimed {
		return
	}
	state.claimed = false

	// Re-raised while in service?
	if state.pending {
		plic.kick()
	}
}

func (plic *Plic) best(h *plicHart) Source {
	var best Source
	var bestPriority uint32

	for source := range h.enabled {
		state := plic.sources[source]
		if state == nil || !state.pending || state.claimed {
			continue
		}
		if state.priority == 0 || state.priority <= h.threshold {
			continue
		}
		if state.priority > bestPriority ||
			(state.priority == bestPriority && source < best) {
			best = source
			bestPriority = state.priority
		}
	}

	return best
}

// Ring every hart that has something deliverable.
// Called with the lock held; Ring itself never blocks.
func (plic *Plic) kick() {
	for _, h := range plic.harts {
		if h.bell != nil && plic.best(h) != NoSource {
			h.bell.Ring()
		}
	}
}
