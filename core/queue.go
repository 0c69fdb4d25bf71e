package core

import (
	"sync"

	"lnsim/core/types"
)

// inbox is a FIFO queue for one message category.
type inbox struct {
	mu    sync.Mutex
	items []*types.Message
}

func (q *inbox) push(msg *types.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// take removes up to max messages from the head.
func (q *inbox) take(max int) []*types.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	batch := make([]*types.Message, max)
	copy(batch, q.items[:max])
	rest := copy(q.items, q.items[max:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:rest]
	return batch
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
