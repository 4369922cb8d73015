package scheduler

import (
	"container/heap"
	"sync"

	"release-orchestrator/core/models"
)

// RunQueue is a FIFO priority queue of runs waiting for the worker
type RunQueue struct {
	runs   []*QueuedRun
	queued map[string]struct{}
	mu     sync.Mutex
}

// QueuedRun wraps a run with its queue position
type QueuedRun struct {
	Run   *models.Run
	Index int // For heap.Interface
}

// NewRunQueue creates a new run queue
func NewRunQueue() *RunQueue {
	rq := &RunQueue{
		runs:   make([]*QueuedRun, 0),
		queued: make(map[string]struct{}),
	}
	heap.Init(rq)
	return rq
}

// Enqueue adds a run to the queue. A run that is already queued is ignored.
func (rq *RunQueue) Enqueue(run *models.Run) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if _, ok := rq.queued[run.ID]; ok {
		return false
	}
	rq.queued[run.ID] = struct{}{}
	heap.Push(rq, &QueuedRun{Run: run})
	return true
}

// PopRun removes and returns the oldest run
func (rq *RunQueue) PopRun() *models.Run {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.Len() == 0 {
		return nil
	}

	item := heap.Pop(rq).(*QueuedRun)
	delete(rq.queued, item.Run.ID)
	return item.Run
}

// Remove drops a waiting run. It reports whether the run was queued.
func (rq *RunQueue) Remove(id string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if _, ok := rq.queued[id]; !ok {
		return false
	}
	for _, item := range rq.runs {
		if item.Run.ID == id {
			heap.Remove(rq, item.Index)
			break
		}
	}
	delete(rq.queued, id)
	return true
}

// Size returns the number of waiting runs
func (rq *RunQueue) Size() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.Len()
}

// Len implements heap.Interface
func (rq *RunQueue) Len() int {
	return len(rq.runs)
}

// Less orders runs by creation time, then id
func (rq *RunQueue) Less(i, j int) bool {
	a, b := rq.runs[i].Run, rq.runs[j].Run
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Swap swaps two runs
func (rq *RunQueue) Swap(i, j int) {
	rq.runs[i], rq.runs[j] = rq.runs[j], rq.runs[i]
	rq.runs[i].Index = i
	rq.runs[j].Index = j
}

// Push implements heap.Interface
func (rq *RunQueue) Push(x interface{}) {
	n := len(rq.runs)
	item := x.(*QueuedRun)
	item.Index = n
	rq.runs = append(rq.runs, item)
}

// Pop implements heap.Interface
func (rq *RunQueue) Pop() interface{} {
	old := rq.runs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	rq.runs = old[0 : n-1]
	return item
}
