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
	"io"
	"os"
	"sync"

	"hartirq/platform"
	"hartirq/sched"
)

const SectorSize = 512

type BlockOp int

const (
	BlockRead BlockOp = iota
	BlockWrite
)

type BlockRequest struct {
	Op     BlockOp
	Sector uint64
	Buf    []byte

	// Set by the worker.
	done bool
	err  error
}

type backing interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// memBacking is a disk with no file behind it.
type memBacking struct {
	data []byte
}

func (mem *memBacking) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(mem.data)) {
		return 0, io.EOF
	}
	n := copy(p, mem.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mem *memBacking) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(mem.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(mem.data[off:], p), nil
}

func (mem *memBacking) Close() error {
	return nil
}

//
// Block --
//
// A disk behind a DMA channel. Requests are carried out
// in submission order by one worker; each completion is
// latched and raises the interrupt. The line stays up
// while completions are latched, so every completion is
// acknowledged by exactly one interrupt.
//
type Block struct {
	BaseDevice

	Source   platform.Source `json:"interrupt"`
	Path     string          `json:"path"`
	Sectors  uint64          `json:"sectors"`
	ReadOnly bool            `json:"readonly"`

	// Guards everything below.
	mu sync.Mutex

	completed    uint64
	acknowledged uint64

	backing backing
	raiser  Raiser

	// Submitted, not yet carried out.
	queue []*BlockRequest
	kick  chan struct{}

	// Completed, not yet acknowledged.
	latched []*BlockRequest

	stop   chan struct{}
	wg     sync.WaitGroup
	closer sync.Once
}

func NewBlock(info *DeviceInfo) (Device, error) {
	block := &Block{
		Source: SourceBlock,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	return block, block.BaseDevice.Init(info)
}

// MarshalJSON snapshots the device under its lock.
func (block *Block) MarshalJSON() ([]byte, error) {
	block.mu.Lock()
	defer block.mu.Unlock()
	return json.Marshal(struct {
		Source       platform.Source `json:"interrupt"`
		Path         string          `json:"path,omitempty"`
		Sectors      uint64          `json:"sectors"`
		ReadOnly     bool            `json:"readonly"`
		Completed    uint64          `json:"completed"`
		Acknowledged uint64          `json:"acknowledged"`
		Queued       int             `json:"queued"`
		Latched      int             `json:"latched"`
	}{
		Source:       block.Source,
		Path:         block.Path,
		Sectors:      block.Sectors,
		ReadOnly:     block.ReadOnly,
		Completed:    block.completed,
		Acknowledged: block.acknowledged,
		Queued:       len(block.queue),
		Latched:      len(block.latched),
	})
}

func (block *Block) Interrupt() platform.Source {
	return block.Source
}

func (block *Block) Attach(model *Model) error {
	if err := block.BaseDevice.Attach(model); err != nil {
		return err
	}

	if block.Path != "" {
		flags := os.O_RDWR
		if block.ReadOnly {
			flags = os.O_RDONLY
		}
		file, err := os.OpenFile(block.Path, flags, 0)
		if err != nil {
			return err
		}
		if block.Sectors == 0 {
			stat, err := file.Stat()
			if err != nil {
				file.Close()
				return err
			}
			block.Sectors = uint64(stat.Size()) / SectorSize
		}
		block.backing = file
	} else {
		if block.Sectors == 0 {
			return BlockNoBacking
		}
		block.backing = &memBacking{data: make([]byte, block.Sectors*SectorSize)}
	}

	block.raiser = model.raiser
	block.wg.Add(1)
	go block.run()
	return nil
}

func (block *Block) Close() error {
	if block.backing == nil {
		return nil
	}
	var err error
	block.closer.Do(func() {
		close(block.stop)
		block.wg.Wait()
		err = block.backing.Close()
	})
	return err
}

// Counters returns how many requests have completed
// and how many completions have been acknowledged.
func (block *Block) Counters() (completed uint64, acknowledged uint64) {
	block.mu.Lock()
	defer block.mu.Unlock()
	return block.completed, block.acknowledged
}

// Validate checks a request before it is submitted.
func (block *Block) Validate(req *BlockRequest) error {
	if len(req.Buf) != SectorSize {
		return BlockBadBuffer
	}
	if req.Sector >= block.Sectors {
		return BlockOutOfRange
	}
	if req.Op == BlockWrite && block.ReadOnly {
		return BlockReadOnly
	}
	return nil
}

// Submit starts a validated request. It never blocks, so
// it may be used as the arm hook of a wait.
func (block *Block) Submit(req *BlockRequest) {
	block.mu.Lock()
	block.queue = append(block.queue, req)
	block.mu.Unlock()

	select {
	case block.kick <- struct{}{}:
	default:
	}
}

func (block *Block) run() {
	defer block.wg.Done()

	for {
		select {
		case <-block.stop:
			return
		case <-block.kick:
		}

		for {
			block.mu.Lock()
			if len(block.queue) == 0 {
				block.mu.Unlock()
				break
			}
			req := block.queue[0]
			block.queue = block.queue[1:]
			block.mu.Unlock()

			err := block.transfer(req)
			block.complete(req, err)
		}
	}
}

func (block *Block) transfer(req *BlockRequest) error {
	offset := int64(req.Sector * SectorSize)
	switch req.Op {
	case BlockRead:
		n, err := block.backing.ReadAt(req.Buf, offset)
		if n == len(req.Buf) {
			// EOF with a full sector is fine.
			return nil
		}
		return err
	case BlockWrite:
		_, err := block.backing.WriteAt(req.Buf, offset)
		return err
	}
	return nil
}

func (block *Block) complete(req *BlockRequest, err error) {
	block.mu.Lock()
	defer block.mu.Unlock()

	req.done = true
	req.err = err
	block.completed++
	block.latched = append(block.latched, req)

	// Raised under our lock so the line is never up
	// without a latched completion behind it.
	block.raise()
}

func (block *Block) raise() {
	if err := block.raiser.Raise(block.Source); err != nil {
		block.logger.Err().
			Str("device", block.Name()).
			Err(err).
			Log("unable to raise interrupt")
	}
}

// HandlerInterrupt acknowledges one completion.
func (block *Block) HandlerInterrupt() {
	block.mu.Lock()
	defer block.mu.Unlock()

	if len(block.latched) == 0 {
		return
	}
	block.latched[0] = nil
	block.latched = block.latched[1:]
	block.acknowledged++

	// More behind it? Keep the line up.
	if len(block.latched) > 0 {
		block.raise()
	}
	block.debug("dma completion acknowledged", block.Source)
}

// Do carries out req from task, which sleeps until the
// completion interrupt wakes it.
func (block *Block) Do(waiter Waiter, task *sched.Task, req *BlockRequest) error {
	if block.raiser == nil {
		return DeviceDetached
	}
	if err := block.Validate(req); err != nil {
		return err
	}

	err := waiter.WaitForIrq(task, block.Source, func() {
		block.Submit(req)
	})
	if err != nil {
		return err
	}

	block.mu.Lock()
	done, result := req.done, req.err
	block.mu.Unlock()

	if !done {
		return BlockOutOfOrder
	}
	return result
}

func (block *Block) ReadSector(
	waiter Waiter,
	task *sched.Task,
	sector uint64) ([]byte, error) {

	buf := make([]byte, SectorSize)
	err := block.Do(waiter, task, &BlockRequest{
		Op:     BlockRead,
		Sector: sector,
		Buf:    buf,
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (block *Block) WriteSector(
	waiter Waiter,
	task *sched.Task,
	sector uint64,
	data []byte) error {

	return block.Do(waiter, task, &BlockRequest{
		Op:     BlockWrite,
		Sector: sector,
		Buf:    data,
	})
}
