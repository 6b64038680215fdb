package engine

import (
	"github.com/hotelops/livesync/internal/model"
	"github.com/hotelops/livesync/internal/registry"
)

type item struct {
	ev   model.ChangeEvent
	desc registry.Descriptor
}

// priorityQueue is a bounded four-bucket queue: one FIFO slice per
// priority rank. FIFO within a bucket preserves arrival order, so a
// full drain yields (priority desc, received_at asc). Not safe for
// concurrent use; the engine serializes access under its mutex.
type priorityQueue struct {
	capacity int
	buckets  [4][]item // indexed by model.Priority.Rank()
	size     int
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{capacity: capacity}
}

func (q *priorityQueue) len() int { return q.size }

// push appends the item to its priority bucket. When full, the oldest
// event of the lowest queued priority strictly below the incoming
// priority is shed to make room; if nothing lower is queued, the
// incoming item is refused. Returns the shed item (nil if none) and
// whether the new item was accepted.
func (q *priorityQueue) push(it item) (*item, bool) {
	rank := it.desc.Priority.Rank()

	if q.size >= q.capacity {
		shedRank := -1
		for r := 0; r < rank; r++ {
			if len(q.buckets[r]) > 0 {
				shedRank = r
				break
			}
		}
		if shedRank < 0 {
			return nil, false
		}
		shed := q.buckets[shedRank][0]
		q.buckets[shedRank] = q.buckets[shedRank][1:]
		q.size--

		q.buckets[rank] = append(q.buckets[rank], it)
		q.size++
		return &shed, true
	}

	q.buckets[rank] = append(q.buckets[rank], it)
	q.size++
	return nil, true
}

// popBatch removes up to n items in dispatch order.
func (q *priorityQueue) popBatch(n int) []item {
	if n <= 0 || q.size == 0 {
		return nil
	}
	out := make([]item, 0, n)
	for r := len(q.buckets) - 1; r >= 0 && len(out) < n; r-- {
		b := q.buckets[r]
		for len(b) > 0 && len(out) < n {
			out = append(out, b[0])
			b = b[1:]
		}
		q.buckets[r] = b
	}
	q.size -= len(out)
	return out
}
