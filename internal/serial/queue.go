// Package serial provides a re-entrant callback queue used to deliver
// notifications strictly one at a time and in submission order.
package serial

import "sync"

// Queue runs callbacks one at a time in submission order. Whichever
// goroutine calls [Queue.Drain] first runs everything queued, including
// callbacks enqueued by the callbacks themselves; concurrent Drain calls
// return immediately. Enqueue never blocks and may be called with other locks
// held, as long as those locks are not taken by the callbacks.
//
// The zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// Enqueue appends fn without running it.
func (q *Queue) Enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Drain runs queued callbacks until the queue is empty, unless another
// goroutine is already draining.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
		q.mu.Lock()
	}
	q.running = false
	q.mu.Unlock()
}

// Len returns the number of callbacks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
