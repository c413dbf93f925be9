package sched

// Queue is a FIFO of task ids. The zero value is an empty
// queue. It is not synchronized; its owner locks around it.
type Queue struct {
	items []TaskId
	head  int
	size  int
}

func (q *Queue) Push(id TaskId) {
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = id
	q.size += 1
}

func (q *Queue) Pop() (TaskId, bool) {
	if q.size == 0 {
		return NoTask, false
	}
	id := q.items[q.head]
	q.items[q.head] = NoTask
	q.head = (q.head + 1) % len(q.items)
	q.size -= 1
	return id, true
}

func (q *Queue) Len() int {
	return q.size
}

// Ids returns the queued ids, head first.
func (q *Queue) Ids() []TaskId {
	ids := make([]TaskId, 0, q.size)
	for i := 0; i < q.size; i++ {
		ids = append(ids, q.items[(q.head+i)%len(q.items)])
	}
	return ids
}

func (q *Queue) grow() {
	capacity := 2 * len(q.items)
	if capacity == 0 {
		capacity = 4
	}
	items := make([]TaskId, capacity)
	copy(items, q.Ids())
	q.items = items
	q.head = 0
}
