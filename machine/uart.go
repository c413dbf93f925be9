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

package machine

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"hartirq/platform"
	"hartirq/sched"
)

const UartDefaultDepth = 1024

const (
	UartIerERXRDY = 0x1
)

const (
	UartLsrOE    = 0x02
	UartLsrRXRDY = 0x01
)

//
// Uart --
//
// A receive-only interrupt model of a serial port.
//
// Readers that find the FIFO empty arm the receive
// interrupt (IER.ERXRDY) and sleep. The interrupt is
// raised while any reader is armed and data is buffered,
// and each interrupt disarms exactly one reader.
//
type Uart struct {
	BaseDevice

	Source platform.Source `json:"interrupt"`
	Depth  int             `json:"fifo"`

	// Guards everything below.
	mu sync.Mutex

	fifo  []byte
	armed int

	ier uint8
	lsr uint8

	received uint64
	overruns uint64
	closed   bool

	raiser Raiser

	// Transmit side.
	outmu  sync.Mutex
	output io.Writer
}

func NewUart(info *DeviceInfo) (Device, error) {
	uart := &Uart{
		Source: SourceUart,
		Depth:  UartDefaultDepth,
	}
	return uart, uart.BaseDevice.Init(info)
}

func (uart *Uart) Interrupt() platform.Source {
	return uart.Source
}

func (uart *Uart) Attach(model *Model) error {
	if err := uart.BaseDevice.Attach(model); err != nil {
		return err
	}

	// Is this a sane uart?
	if uart.Source == platform.NoSource {
		return UartNoInterrupt
	}
	if uart.Depth <= 0 {
		uart.Depth = UartDefaultDepth
	}

	uart.raiser = model.raiser
	uart.output = model.Output

	// Start reading.
	if model.Input != nil {
		go uart.readStream(model.Input)
	}
	return nil
}

func (uart *Uart) Close() error {
	uart.mu.Lock()
	uart.closed = true
	uart.mu.Unlock()
	return nil
}

func (uart *Uart) readStream(input io.Reader) {

	buffer := make([]byte, 256)

	for {
		n, err := input.Read(buffer)
		if n > 0 {
			uart.Feed(buffer[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				uart.logger.Warning().
					Str("device", uart.Name()).
					Err(err).
					Log("console input failed")
			}
			return
		}
	}
}

// Feed puts received bytes into the FIFO. Bytes that do
// not fit are dropped and flagged as an overrun.
func (uart *Uart) Feed(data []byte) {
	uart.mu.Lock()
	defer uart.mu.Unlock()

	if uart.closed {
		return
	}

	accepted := 0
	for _, b := range data {
		if len(uart.fifo) >= uart.Depth {
			uart.overruns++
			uart.lsr |= UartLsrOE
			continue
		}
		uart.fifo = append(uart.fifo, b)
		accepted++
	}
	if accepted == 0 {
		return
	}
	uart.received += uint64(accepted)
	uart.lsr |= UartLsrRXRDY

	if uart.ier&UartIerERXRDY != 0 {
		uart.raise()
	}
}

func (uart *Uart) raise() {
	if err := uart.raiser.Raise(uart.Source); err != nil {
		uart.logger.Err().
			Str("device", uart.Name()).
			Err(err).
			Log("unable to raise interrupt")
	}
}

// arm enables the receive interrupt for one more reader.
// Used as the arm hook of a wait; it never blocks.
func (uart *Uart) arm() {
	uart.mu.Lock()
	defer uart.mu.Unlock()

	uart.armed++
	uart.ier |= UartIerERXRDY

	// Already something there?
	if len(uart.fifo) > 0 {
		uart.raise()
	}
}

// HandlerInterrupt disarms one reader, masking the receive
// interrupt once no reader is left.
func (uart *Uart) HandlerInterrupt() {
	uart.mu.Lock()
	defer uart.mu.Unlock()

	if uart.armed > 0 {
		uart.armed--
	}
	if uart.armed == 0 {
		uart.ier &^= UartIerERXRDY
	} else if len(uart.fifo) > 0 {
		uart.raise()
	}
	uart.debug("receive interrupt", uart.Source)
}

func (uart *Uart) pop() (byte, bool) {
	uart.mu.Lock()
	defer uart.mu.Unlock()

	if len(uart.fifo) == 0 {
		return 0, false
	}
	b := uart.fifo[0]
	uart.fifo = uart.fifo[1:]
	if len(uart.fifo) == 0 {
		uart.lsr &^= UartLsrRXRDY
	}
	return b, true
}

// ReceiveByte returns the next received byte, putting task
// to sleep until one arrives.
func (uart *Uart) ReceiveByte(waiter Waiter, task *sched.Task) (byte, error) {
	if uart.raiser == nil {
		return 0, DeviceDetached
	}

	for {
		if b, ok := uart.pop(); ok {
			return b, nil
		}

		// Someone else may have taken what woke us.
		err := waiter.WaitForIrq(task, uart.Source, uart.arm)
		if err != nil {
			return 0, err
		}
	}
}

// Write transmits data. It is not interrupt driven.
func (uart *Uart) Write(data []byte) (int, error) {
	uart.outmu.Lock()
	defer uart.outmu.Unlock()

	if uart.output == nil {
		return len(data), nil
	}
	return uart.output.Write(data)
}

// MarshalJSON snapshots the device under its lock.
func (uart *Uart) MarshalJSON() ([]byte, error) {
	uart.mu.Lock()
	defer uart.mu.Unlock()
	return json.Marshal(struct {
		Source   platform.Source `json:"interrupt"`
		Depth    int             `json:"fifo"`
		Buffered int             `json:"buffered"`
		Armed    int             `json:"armed"`
		Ier      uint8           `json:"ier"`
		Lsr      uint8           `json:"lsr"`
		Received uint64          `json:"received"`
		Overruns uint64          `json:"overruns"`
	}{
		Source:   uart.Source,
		Depth:    uart.Depth,
		Buffered: len(uart.fifo),
		Armed:    uart.armed,
		Ier:      uart.ier,
		Lsr:      uart.lsr,
		Received: uart.received,
		Overruns: uart.overruns,
	})
}
