package atomo

import "sync"

// maxInvalidationDepth bounds how many times one atom may re-trigger its own
// invalidation within a single processing frame before failing fast.
const maxInvalidationDepth = 64

// scheduler is the scope's deferred-task turn queue. A single worker
// goroutine drains it, so exactly one actor ever mutates entry state;
// external callers only enqueue intents. This models the cooperative
// single-threaded scheduling the engine requires without locks around the
// processing steps themselves.
type scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	busy   bool
	closed bool
}

func newScheduler() *scheduler {
	d := &scheduler{}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *scheduler) run() {
	d.mu.Lock()
	for {
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.busy = true
		d.mu.Unlock()

		fn()

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
	}
}

// enqueue appends a task for the next turn. Tasks enqueued after close are
// dropped; the return value reports acceptance.
func (d *scheduler) enqueue(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Broadcast()
	d.mu.Unlock()
	return true
}

// settle blocks until the queue is drained and no task is running. Tasks may
// enqueue further tasks; settle waits those out too.
func (d *scheduler) settle() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.busy {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

func (d *scheduler) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}
