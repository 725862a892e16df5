package camera

import "sync"

// stateQueue hands state changes to the listener on its own goroutine, in
// the order they were pushed. push never blocks, so a slow listener cannot
// hold up Start, Stop or the acquisition loop.
type stateQueue struct {
	fn   func(StateChange)
	done chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	items  []queuedState
	closed bool
}

type queuedState struct {
	sc    StateChange
	after func()
}

func newStateQueue(fn func(StateChange)) *stateQueue {
	q := &stateQueue{fn: fn, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// push queues sc. after, if set, runs once the listener has returned.
func (q *stateQueue) push(sc StateChange, after func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if after != nil {
			after()
		}
		return
	}
	q.items = append(q.items, queuedState{sc: sc, after: after})
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *stateQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, it := range batch {
			q.fn(it.sc)
			if it.after != nil {
				it.after()
			}
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

// close delivers what is queued and stops the goroutine.
func (q *stateQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
}
