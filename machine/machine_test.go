package machine

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hartirq/irq"
	"hartirq/platform"
	"hartirq/sched"
)

type fakeRaiser struct {
	mu     sync.Mutex
	raised []platform.Source
}

func (raiser *fakeRaiser) Raise(source platform.Source) error {
	raiser.mu.Lock()
	defer raiser.mu.Unlock()
	raiser.raised = append(raiser.raised, source)
	return nil
}

func (raiser *fakeRaiser) Count() int {
	raiser.mu.Lock()
	defer raiser.mu.Unlock()
	return len(raiser.raised)
}

// rig is a running machine: controller, scheduler,
// interrupt manager and harts.
type rig struct {
	model     *Model
	scheduler *sched.Scheduler
	manager   *irq.Manager
}

func startRig(t *testing.T, harts int, infos []DeviceInfo) *rig {
	t.Helper()

	plic := platform.NewPlic(harts)
	bells := make([]*platform.Doorbell, harts)
	for i := range bells {
		bell, err := platform.NewDoorbell()
		require.NoError(t, err)
		require.NoError(t, plic.Attach(platform.Hart(i), bell))
		bells[i] = bell
	}

	model := NewModel(plic, nil)
	model.Input = nil
	model.Output = new(bytes.Buffer)
	require.NoError(t, model.CreateDevices(infos, false))

	scheduler := sched.New(harts, plic.SendSoftware, nil)
	manager := irq.NewManager(plic, scheduler, model.Table(), nil)
	for hart := 0; hart < harts; hart++ {
		manager.Init(platform.Hart(hart))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := range bells {
		wg.Add(1)
		go func(hart platform.Hart) {
			defer wg.Done()
			err := scheduler.RunHart(ctx, hart, bells[hart], func() error {
				for plic.Pending(hart) {
					if err := manager.HandleExternal(hart); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}(platform.Hart(i))
	}

	t.Cleanup(func() {
		cancel()
		for _, bell := range bells {
			bell.Ring()
		}
		wg.Wait()
		for _, bell := range bells {
			bell.Close()
		}
		assert.NoError(t, model.Close())
	})

	return &rig{model: model, scheduler: scheduler, manager: manager}
}

func (r *rig) waitExited(t *testing.T, tasks ...*sched.Task) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, task := range tasks {
			if task.Status() != sched.Exited {
				return false
			}
		}
		return true
	}, 10*time.Second, time.Millisecond)
	for _, task := range tasks {
		assert.NoError(t, task.Err())
	}
}

func TestLoadUnknownDriver(t *testing.T) {
	_, err := DeviceInfo{Name: "x", Driver: "floppy"}.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floppy")
}

func TestLoadAppliesData(t *testing.T) {
	device, err := DeviceInfo{
		Name:   "disk1",
		Driver: "block",
		Data: map[string]interface{}{
			"sectors":   json.Number("8"),
			"interrupt": 5,
			"readonly":  true,
		},
	}.Load()
	require.NoError(t, err)

	block, ok := device.(*Block)
	require.True(t, ok)
	assert.Equal(t, "disk1", block.Name())
	assert.Equal(t, "block", block.Driver())
	assert.Equal(t, uint64(8), block.Sectors)
	assert.Equal(t, platform.Source(5), block.Interrupt())
	assert.True(t, block.ReadOnly)

	// Defaults survive.
	device, err = DeviceInfo{Name: "uart0", Driver: "uart"}.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceUart, device.Interrupt())
}

func TestAddDeviceConflicts(t *testing.T) {
	model := NewModel(new(fakeRaiser), nil)
	model.Input = nil

	require.NoError(t, model.CreateDevices([]DeviceInfo{
		{Name: "uart0", Driver: "uart"},
		{Name: "disk0", Driver: "block", Data: map[string]interface{}{"sectors": 1}},
	}, false))

	err := model.CreateDevices([]DeviceInfo{
		{Name: "uart1", Driver: "uart"},
	}, false)
	assert.ErrorIs(t, err, InterruptConflict)

	err = model.CreateDevices([]DeviceInfo{
		{Name: "uart0", Driver: "uart", Data: map[string]interface{}{"interrupt": 40}},
	}, false)
	assert.ErrorIs(t, err, DeviceConflict)

	table := model.Table()
	require.Len(t, table, 2)
	uart, err := model.Device("uart0")
	require.NoError(t, err)
	assert.Equal(t, uart, table[SourceUart])
	_, err = model.Device("uart1")
	assert.ErrorIs(t, err, DeviceNotFound)

	infos := model.DeviceInfo()
	require.Len(t, infos, 2)
	assert.Equal(t, "disk0", infos[1].Name)
	encoded, err := json.Marshal(infos)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"sectors":1`)

	assert.NoError(t, model.Close())
}

func TestBlockNeedsBacking(t *testing.T) {
	model := NewModel(new(fakeRaiser), nil)
	err := model.CreateDevices([]DeviceInfo{{Name: "disk0", Driver: "block"}}, false)
	assert.ErrorIs(t, err, BlockNoBacking)
}

func TestBlockValidate(t *testing.T) {
	block := &Block{Sectors: 4, ReadOnly: true}

	assert.ErrorIs(t, block.Validate(&BlockRequest{Buf: make([]byte, 10)}), BlockBadBuffer)
	assert.ErrorIs(t, block.Validate(&BlockRequest{
		Sector: 4,
		Buf:    make([]byte, SectorSize),
	}), BlockOutOfRange)
	assert.ErrorIs(t, block.Validate(&BlockRequest{
		Op:  BlockWrite,
		Buf: make([]byte, SectorSize),
	}), BlockReadOnly)
	assert.NoError(t, block.Validate(&BlockRequest{
		Sector: 3,
		Buf:    make([]byte, SectorSize),
	}))
}

func TestBlockLatchesCompletions(t *testing.T) {
	raiser := new(fakeRaiser)
	model := NewModel(raiser, nil)
	require.NoError(t, model.CreateDevices([]DeviceInfo{
		{Name: "disk0", Driver: "block", Data: map[string]interface{}{"sectors": 4}},
	}, false))
	defer model.Close()

	device, err := model.Device("disk0")
	require.NoError(t, err)
	block := device.(*Block)

	// Nothing latched, nothing to do.
	block.HandlerInterrupt()
	assert.Zero(t, raiser.Count())

	for sector := uint64(0); sector < 3; sector++ {
		block.Submit(&BlockRequest{Sector: sector, Buf: make([]byte, SectorSize)})
	}
	require.Eventually(t, func() bool {
		completed, _ := block.Counters()
		return completed == 3
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 3, raiser.Count())

	// The line stays up until the last one is acknowledged.
	block.HandlerInterrupt()
	block.HandlerInterrupt()
	assert.Equal(t, 5, raiser.Count())
	block.HandlerInterrupt()
	assert.Equal(t, 5, raiser.Count())

	completed, acknowledged := block.Counters()
	assert.Equal(t, uint64(3), completed)
	assert.Equal(t, uint64(3), acknowledged)
}

func TestBlockRoundTrip(t *testing.T) {
	r := startRig(t, 2, []DeviceInfo{
		{Name: "disk0", Driver: "block", Data: map[string]interface{}{"sectors": 64}},
	})
	device, err := r.model.Device("disk0")
	require.NoError(t, err)
	block := device.(*Block)

	var tasks []*sched.Task
	for i := 0; i < 8; i++ {
		sector := uint64(i * 4)
		tasks = append(tasks, r.scheduler.Spawn("io", func(task *sched.Task) error {
			data := bytes.Repeat([]byte{byte(sector)}, SectorSize)
			if err := block.WriteSector(r.manager, task, sector, data); err != nil {
				return err
			}
			read, err := block.ReadSector(r.manager, task, sector)
			if err != nil {
				return err
			}
			if !bytes.Equal(data, read) {
				return BlockOutOfOrder
			}
			return nil
		}))
	}
	r.waitExited(t, tasks...)

	completed, acknowledged := block.Counters()
	assert.Equal(t, uint64(16), completed)
	assert.Equal(t, uint64(16), acknowledged)

	stats := r.manager.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(16), stats[0].Woken)
	assert.Zero(t, stats[0].Unmatched)
}

func TestBlockFileBacking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	image := make([]byte, 3*SectorSize)
	copy(image[SectorSize:], "hello, sector one")
	require.NoError(t, os.WriteFile(path, image, 0o600))

	r := startRig(t, 1, []DeviceInfo{
		{Name: "disk0", Driver: "block", Data: map[string]interface{}{
			"path":     path,
			"readonly": true,
		}},
	})
	device, err := r.model.Device("disk0")
	require.NoError(t, err)
	block := device.(*Block)
	assert.Equal(t, uint64(3), block.Sectors)

	var read []byte
	var writeErr error
	task := r.scheduler.Spawn("reader", func(task *sched.Task) error {
		var err error
		read, err = block.ReadSector(r.manager, task, 1)
		writeErr = block.WriteSector(r.manager, task, 1, read)
		return err
	})
	r.waitExited(t, task)

	assert.Equal(t, image[SectorSize:2*SectorSize], read)
	assert.ErrorIs(t, writeErr, BlockReadOnly)
}

func TestUartArming(t *testing.T) {
	raiser := new(fakeRaiser)
	uart := &Uart{Source: SourceUart, Depth: 4, raiser: raiser}

	// Not armed: buffered, no interrupt.
	uart.Feed([]byte("ab"))
	assert.Zero(t, raiser.Count())

	// Arming with data buffered raises at once.
	uart.arm()
	assert.Equal(t, 1, raiser.Count())
	uart.arm()
	assert.Equal(t, 2, raiser.Count())

	// One reader left, data still there: keep the line up.
	uart.HandlerInterrupt()
	assert.Equal(t, 3, raiser.Count())
	assert.Equal(t, uint8(UartIerERXRDY), uart.ier)

	// Last reader: masked.
	uart.HandlerInterrupt()
	assert.Equal(t, 3, raiser.Count())
	assert.Zero(t, uart.ier)

	// Overrun.
	uart.Feed([]byte("cdef"))
	assert.Equal(t, uint64(2), uart.overruns)
	assert.Equal(t, uint8(UartLsrOE|UartLsrRXRDY), uart.lsr)

	for _, want := range []byte("abcd") {
		b, ok := uart.pop()
		require.True(t, ok)
		assert.Equal(t, want, b)
	}
	_, ok := uart.pop()
	assert.False(t, ok)
	assert.Zero(t, uart.lsr&UartLsrRXRDY)
}

func TestUartReceive(t *testing.T) {
	r := startRig(t, 2, []DeviceInfo{
		{Name: "uart0", Driver: "uart"},
	})
	device, err := r.model.Device("uart0")
	require.NoError(t, err)
	uart := device.(*Uart)

	var mu sync.Mutex
	var got []byte

	var tasks []*sched.Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, r.scheduler.Spawn("reader", func(task *sched.Task) error {
			for j := 0; j < 4; j++ {
				b, err := uart.ReceiveByte(r.manager, task)
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, b)
				mu.Unlock()
			}
			return nil
		}))
	}

	// Let them go to sleep first.
	require.Eventually(t, func() bool {
		r.manager.Lock()
		defer r.manager.Unlock()
		return r.manager.Len(SourceUart) == 3
	}, 5*time.Second, time.Millisecond)

	input := []byte("abcdefghijkl")
	for i := 0; i < len(input); i += 3 {
		uart.Feed(input[i : i+3])
	}
	r.waitExited(t, tasks...)

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, input, got)

	uart.mu.Lock()
	assert.Zero(t, uart.armed)
	assert.Zero(t, uart.ier)
	uart.mu.Unlock()

	n, err := uart.Write([]byte("ok\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "ok\n", r.model.Output.(*bytes.Buffer).String())
}

func TestUartReadsInput(t *testing.T) {
	model := NewModel(new(fakeRaiser), nil)
	model.Input = bytes.NewReader([]byte("xyz"))
	require.NoError(t, model.CreateDevices([]DeviceInfo{{Name: "uart0", Driver: "uart"}}, false))

	device, err := model.Device("uart0")
	require.NoError(t, err)
	uart := device.(*Uart)

	require.Eventually(t, func() bool {
		uart.mu.Lock()
		defer uart.mu.Unlock()
		return uart.received == 3
	}, 5*time.Second, time.Millisecond)
}
