package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hartirq/platform"
)

// startHarts runs harts dispatcher loops until the test ends.
func startHarts(t *testing.T, harts int) *Scheduler {
	t.Helper()

	bells := make([]*platform.Doorbell, harts)
	for i := range bells {
		bell, err := platform.NewDoorbell()
		require.NoError(t, err)
		bells[i] = bell
	}

	s := New(harts, func(hart platform.Hart) {
		bells[hart].Ring()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := range bells {
		wg.Add(1)
		go func(hart platform.Hart) {
			defer wg.Done()
			assert.NoError(t, s.RunHart(ctx, hart, bells[hart], nil))
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
	})
	return s
}

func waitExited(t *testing.T, tasks ...*Task) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, task := range tasks {
			if task.Status() != Exited {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
}

func TestQueueFIFO(t *testing.T) {
	var q Queue
	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 0; i < 10; i++ {
		q.Push(TaskId(i))
	}
	for i := 0; i < 5; i++ {
		id, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, TaskId(i), id)
	}

	// Wrap around and grow again.
	for i := 10; i < 20; i++ {
		q.Push(TaskId(i))
	}
	assert.Equal(t, 15, q.Len())
	ids := q.Ids()
	require.Len(t, ids, 15)
	assert.Equal(t, TaskId(5), ids[0])
	assert.Equal(t, TaskId(19), ids[14])

	for i := 5; i < 20; i++ {
		id, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, TaskId(i), id)
	}
	assert.Zero(t, q.Len())
}

func TestSpawnRunsEveryTask(t *testing.T) {
	s := startHarts(t, 2)

	var mu sync.Mutex
	ran := make(map[TaskId]bool)

	var tasks []*Task
	for i := 0; i < 16; i++ {
		tasks = append(tasks, s.Spawn("worker", func(task *Task) error {
			mu.Lock()
			ran[task.Id()] = true
			mu.Unlock()
			return nil
		}))
	}
	waitExited(t, tasks...)

	assert.Len(t, ran, 16)
	for _, info := range s.Tasks() {
		assert.Equal(t, "exited", info.Status)
		assert.Equal(t, "none", info.Owner)
	}
}

func TestYieldRoundRobin(t *testing.T) {
	s := startHarts(t, 1)

	var mu sync.Mutex
	var order []string
	record := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	// Both are queued before the hart gets to either.
	gate := make(chan struct{})
	first := s.Spawn("gate", func(task *Task) error {
		<-gate
		return nil
	})
	a := s.Spawn("a", func(task *Task) error {
		record("a1")
		assert.NoError(t, s.Yield(task))
		record("a2")
		return nil
	})
	b := s.Spawn("b", func(task *Task) error {
		record("b1")
		assert.NoError(t, s.Yield(task))
		record("b2")
		return nil
	})
	close(gate)

	waitExited(t, first, a, b)
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, order)
}

func TestTakeCurrentTask(t *testing.T) {
	s := New(2, nil, nil)

	_, ok := s.TakeCurrentTask(0)
	assert.False(t, ok)
	_, ok = s.TakeCurrentTask(7)
	assert.False(t, ok)
	assert.Equal(t, NoTask, s.Current(0))
}

func TestTakeTaskIdleHart(t *testing.T) {
	s := New(1, nil, nil)
	task := NewTask(0, "parked")

	assert.ErrorIs(t, s.TakeTask(task), NoCurrentTask)
	assert.ErrorIs(t, s.TakeTask(nil), InvalidTask)
	assert.Equal(t, OwnerNone, task.Owner())
}

func TestYieldLeavesOtherTasksAlone(t *testing.T) {
	s := startHarts(t, 1)

	errs := make(chan error, 2)
	stale := make(chan *Task, 1)
	runner := s.Spawn("runner", func(task *Task) error {
		// Queued behind us on the only hart.
		other := s.Spawn("other", func(task *Task) error { return nil })
		stale <- other

		errs <- s.Yield(other)
		errs <- s.TakeTask(other)

		assert.Equal(t, task.Id(), s.Current(task.Hart()))
		assert.Equal(t, OwnerHart, task.Owner())
		assert.Equal(t, OwnerReady, other.Owner())
		return nil
	})

	other := <-stale
	waitExited(t, runner, other)
	assert.ErrorIs(t, <-errs, NotCurrent)
	assert.ErrorIs(t, <-errs, NotCurrent)
	assert.NoError(t, runner.Err())
	assert.NoError(t, other.Err())
}

func TestAddTaskRejectsSecondOwner(t *testing.T) {
	s := New(1, nil, nil)
	task := NewTask(0, "detached")

	require.NoError(t, s.AddTask(task))
	assert.Equal(t, OwnerReady, task.Owner())
	assert.Equal(t, []TaskId{0}, s.ReadyIds())

	err := s.AddTask(task)
	require.ErrorIs(t, err, TaskOwned)
	var ownership *OwnershipError
	require.ErrorAs(t, err, &ownership)
	assert.Equal(t, OwnerReady, ownership.Actual)

	assert.ErrorIs(t, s.AddTask(nil), InvalidTask)
	assert.Equal(t, []TaskId{0}, s.ReadyIds())
}

func TestTaskPanicIsReported(t *testing.T) {
	s := startHarts(t, 1)

	task := s.Spawn("bad", func(task *Task) error {
		panic("boom")
	})
	waitExited(t, task)
	require.Error(t, task.Err())
	assert.Contains(t, task.Err().Error(), "boom")

	// The hart survives.
	after := s.Spawn("good", func(task *Task) error { return nil })
	waitExited(t, after)
	assert.NoError(t, after.Err())
}

func TestTaskSeesItsHart(t *testing.T) {
	s := startHarts(t, 3)

	harts := make(chan platform.Hart, 1)
	task := s.Spawn("where", func(task *Task) error {
		assert.Equal(t, task.Id(), s.Current(task.Hart()))
		harts <- task.Hart()
		return nil
	})
	waitExited(t, task)
	assert.Less(t, int(<-harts), 3)
}
