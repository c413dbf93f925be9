package control

import (
	"context"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hartirq/irq"
	"hartirq/machine"
	"hartirq/platform"
	"hartirq/sched"
)

type fixture struct {
	path      string
	plic      *platform.Plic
	model     *machine.Model
	scheduler *sched.Scheduler

	cancel context.CancelFunc
	served chan struct{}
	err    error
}

func startControl(t *testing.T) *fixture {
	t.Helper()

	plic := platform.NewPlic(1)
	model := machine.NewModel(plic, nil)
	model.Input = nil
	model.Output = io.Discard
	require.NoError(t, model.CreateDevices([]machine.DeviceInfo{
		{Name: "disk0", Driver: "block", Data: map[string]interface{}{"sectors": 2}},
		{Name: "uart0", Driver: "uart"},
	}, false))

	scheduler := sched.New(1, nil, nil)
	manager := irq.NewManager(plic, scheduler, model.Table(), nil)
	manager.Init(0)

	path := filepath.Join(t.TempDir(), "control")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	control, err := NewControl(listener, NewRpc(model, plic, manager, scheduler), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		path:      path,
		plic:      plic,
		model:     model,
		scheduler: scheduler,
		cancel:    cancel,
		served:    make(chan struct{}),
	}
	go func() {
		f.err = control.Serve(ctx)
		close(f.served)
	}()

	t.Cleanup(func() {
		cancel()
		<-f.served
		assert.NoError(t, f.err)
		assert.NoError(t, model.Close())
	})

	return f
}

func (f *fixture) dial(t *testing.T) *rpc.Client {
	t.Helper()
	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	_, err = conn.Write([]byte(RpcHeader))
	require.NoError(t, err)
	client := jsonrpc.NewClient(conn)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewControlInvalid(t *testing.T) {
	_, err := NewControl(nil, nil, nil)
	assert.ErrorIs(t, err, InvalidControlSocket)
}

func TestRaise(t *testing.T) {
	f := startControl(t)
	client := f.dial(t)

	assert.False(t, f.plic.Pending(0))
	require.NoError(t, client.Call("Rpc.Raise", &RaiseRequest{Source: machine.SourceUart}, &Nop{}))
	assert.True(t, f.plic.Pending(0))
	assert.Equal(t, machine.SourceUart, f.plic.Current(0))

	err := client.Call("Rpc.Raise", &RaiseRequest{Source: platform.NoSource}, &Nop{})
	require.Error(t, err)
	assert.Equal(t, platform.InvalidSource.Error(), err.Error())
}

func TestStatsAndTasks(t *testing.T) {
	f := startControl(t)
	client := f.dial(t)

	var stats StatsResult
	require.NoError(t, client.Call("Rpc.Stats", &Nop{}, &stats))
	require.Len(t, stats.Sources, 2)
	assert.Equal(t, machine.SourceBlock, stats.Sources[0].Source)
	assert.Equal(t, machine.SourceUart, stats.Sources[1].Source)

	// No harts are running; it stays ready.
	f.scheduler.Spawn("idle", func(task *sched.Task) error { return nil })

	var tasks TasksResult
	require.NoError(t, client.Call("Rpc.Tasks", &Nop{}, &tasks))
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "idle", tasks.Tasks[0].Name)
	assert.Equal(t, "ready", tasks.Tasks[0].Status)
	assert.Equal(t, []sched.TaskId{0}, tasks.Ready)
}

func TestDevicesAndInput(t *testing.T) {
	f := startControl(t)
	client := f.dial(t)

	require.NoError(t, client.Call("Rpc.Input", &InputRequest{
		Device: "uart0",
		Data:   []byte("hi"),
	}, &Nop{}))

	err := client.Call("Rpc.Input", &InputRequest{Device: "disk0"}, &Nop{})
	require.Error(t, err)
	assert.Equal(t, NotAUart.Error(), err.Error())

	err = client.Call("Rpc.Input", &InputRequest{Device: "tape0"}, &Nop{})
	require.Error(t, err)
	assert.Equal(t, machine.DeviceNotFound.Error(), err.Error())

	var devices DevicesResult
	require.NoError(t, client.Call("Rpc.Devices", &Nop{}, &devices))
	require.Len(t, devices.Devices, 2)
	assert.Equal(t, "disk0", devices.Devices[0].Name)
	assert.Equal(t, "block", devices.Devices[0].Driver)

	uart := devices.Devices[1]
	assert.Equal(t, "uart0", uart.Name)
	data, ok := uart.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), data["buffered"])
	assert.Equal(t, float64(machine.SourceUart), data["interrupt"])
}

func TestInvalidHeader(t *testing.T) {
	f := startControl(t)

	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("NOVM RUN\n"))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, InvalidHeader.Error(), string(reply))
}

func TestServeStopsWithClientConnected(t *testing.T) {
	f := startControl(t)
	client := f.dial(t)

	// Make sure the connection is being served.
	var stats StatsResult
	require.NoError(t, client.Call("Rpc.Stats", &Nop{}, &stats))

	f.cancel()
	select {
	case <-f.served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still running with a client connected")
	}
	assert.NoError(t, f.err)

	// The client was hung up on.
	assert.Error(t, client.Call("Rpc.Stats", &Nop{}, &stats))
}
