package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

type taskKey struct {
	kind Kind
	id   int64
}

type queueItem struct {
	task  Task
	index int
}

type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.At.Equal(h[j].task.At) {
		return h[i].task.ID < h[j].task.ID
	}
	return h[i].task.At.Before(h[j].task.At)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a time-ordered task queue. A task is held once per (Kind, ID);
// enqueuing it again keeps the earlier due time.
type Queue struct {
	mu    sync.Mutex
	items taskHeap
	index map[taskKey]*queueItem
	wake  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		index: make(map[taskKey]*queueItem),
		wake:  make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	key := taskKey{kind: t.Kind, id: int64(t.ID)}
	if existing, ok := q.index[key]; ok {
		if t.At.Before(existing.task.At) {
			existing.task.At = t.At
			heap.Fix(&q.items, existing.index)
		}
	} else {
		item := &queueItem{task: t}
		heap.Push(&q.items, item)
		q.index[key] = item
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopDue removes and returns every task due at or before now, earliest first.
func (q *Queue) PopDue(now time.Time) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Task
	for len(q.items) > 0 && !q.items[0].task.At.After(now) {
		item := heap.Pop(&q.items).(*queueItem)
		delete(q.index, taskKey{kind: item.task.Kind, id: int64(item.task.ID)})
		due = append(due, item.task)
	}
	return due
}

// NextAt reports when the earliest task is due.
func (q *Queue) NextAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].task.At, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake fires after every Enqueue. It is buffered by one so bursts collapse.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
