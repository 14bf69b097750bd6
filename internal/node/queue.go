package node

import (
	"sync"

	"github.com/devrev/voicelink/pkg/model"
)

// pending is an encoded command waiting to be written.
type pending struct {
	op      model.Opcode
	guildID string
	payload []byte
}

// pendingQueue is the bounded FIFO every outgoing command passes through.
// When full, the oldest entry is dropped. Push never blocks.
type pendingQueue struct {
	mu       sync.Mutex
	items    []pending
	capacity int
	notify   chan struct{}
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &pendingQueue{
		items:    make([]pending, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends p and returns the entry dropped to make room, if any.
func (q *pendingQueue) push(p pending) (dropped pending, overflow bool) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		dropped = q.items[0]
		overflow = true
		q.items = append(q.items[:0], q.items[1:]...)
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	q.signal()
	return dropped, overflow
}

// pop removes and returns the oldest entry.
func (q *pendingQueue) pop() (pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return pending{}, false
	}
	p := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return p, true
}

// requeue puts p back at the head after a failed write. If newer commands
// filled the queue meanwhile, p is the one dropped.
func (q *pendingQueue) requeue(p pending) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, pending{})
	copy(q.items[1:], q.items)
	q.items[0] = p
	return true
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// clear discards every entry and returns how many were dropped.
func (q *pendingQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = q.items[:0]
	return n
}

func (q *pendingQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
