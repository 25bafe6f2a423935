package jobs

import (
	"container/heap"
	"log/slog"
	"sync"
)

// Queue is the in-memory holding area for claimed-but-not-yet-dispatched
// jobs, ordered by (priority desc, enqueue-order asc). It exists so the
// scheduler can batch-claim from the durable store and then drain at
// controlled concurrency without re-querying storage for every dequeue. It
// is intentionally non-durable; a process crash loses only already-claimed
// jobs, which the stale-lease reset recovers on the next startup.
type Queue struct {
	mu     sync.Mutex
	items  queueHeap
	seq    uint64
	logger *slog.Logger
}

// QueueStats is an introspection snapshot of the queue contents.
type QueueStats struct {
	Size   int
	ByType map[JobType]int
}

// NewQueue creates an empty priority queue.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		logger: logger.With("component", "queue"),
	}
}

// Enqueue inserts a job maintaining priority order. It never blocks.
func (q *Queue) Enqueue(job QueuedJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.items, &queueItem{job: job, seq: q.seq})
	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"job_type", job.Type,
		"priority", job.Priority,
		"queue_len", q.items.Len())
}

// Dequeue removes and returns the highest-priority oldest job. The second
// return value is false when the queue is empty. It never blocks; the
// scheduler treats an empty result as the end of the current drain cycle.
func (q *Queue) Dequeue() (QueuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return QueuedJob{}, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.job, true
}

// Size returns the number of jobs currently held.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stats returns a snapshot of the queue contents for observability.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		Size:   q.items.Len(),
		ByType: make(map[JobType]int),
	}
	for _, item := range q.items {
		stats.ByType[item.job.Type]++
	}
	return stats
}

// queueItem pairs a job with a monotonic sequence number so that equal
// priorities dequeue FIFO.
type queueItem struct {
	job QueuedJob
	seq uint64
}

type queueHeap []*queueItem

func (h queueHeap) Len() int { return len(h) }

func (h queueHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queueHeap) Push(x any) {
	*h = append(*h, x.(*queueItem))
}

func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
