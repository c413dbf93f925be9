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
	"fmt"

	"hartirq/platform"
)

// Fault causes.
var ErrNoCurrentTask = errors.New("Wait for interrupt with no current task!")
var ErrUnknownIrq = errors.New("Unknown interrupt source!")
var ErrUnregistered = errors.New("Interrupt source not registered!")
var ErrInvariant = errors.New("Task queue invariant violated!")

// Policy errors.
var InvalidPolicy = errors.New("Invalid fault policy?")

type FaultKind int

const (
	// A task tried to block on a hart with no current task.
	FaultNoCurrentTask FaultKind = iota

	// The controller handed us a source with no driver.
	FaultUnknownIrq

	// A task tried to block on a source that was never registered.
	FaultUnregistered

	// A task turned up in two queues at once.
	FaultInvariant
)

func (kind FaultKind) String() string {
	switch kind {
	case FaultNoCurrentTask:
		return "no-current-task"
	case FaultUnknownIrq:
		return "unknown-irq"
	case FaultUnregistered:
		return "unregistered"
	case FaultInvariant:
		return "invariant"
	}
	return fmt.Sprintf("fault(%d)", int(kind))
}

func (kind FaultKind) cause() error {
	switch kind {
	case FaultNoCurrentTask:
		return ErrNoCurrentTask
	case FaultUnknownIrq:
		return ErrUnknownIrq
	case FaultUnregistered:
		return ErrUnregistered
	}
	return ErrInvariant
}

//
// Fault --
//
// A condition the interrupt layer cannot recover from on
// its own. It is reported, never acted on here; the host
// decides (see Policy).
//
type Fault struct {
	Kind   FaultKind
	Hart   platform.Hart
	Source platform.Source

	// Underlying error, if any.
	Err error
}

func (fault *Fault) Error() string {
	msg := fmt.Sprintf(
		"irq fault %s on hart %d (source %d): %s",
		fault.Kind, fault.Hart, fault.Source, fault.Kind.cause())
	if fault.Err != nil {
		msg += ": " + fault.Err.Error()
	}
	return msg
}

func (fault *Fault) Unwrap() []error {
	if fault.Err != nil {
		return []error{fault.Kind.cause(), fault.Err}
	}
	return []error{fault.Kind.cause()}
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}
