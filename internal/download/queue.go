package download

import (
	"sync"

	"github.com/Laynholt/ymd2/internal/monitoring"
)

// jobQueue is the shared queue of the active playlist. Claiming a job, the
// empty check and worker state changes all happen under mu, so the drain
// condition (no queued jobs, no Working worker) is observed atomically.
// Waiters block on cond; every state change broadcasts.
type jobQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []*Job
	workers []*Worker
	working int
	live    int
	closing bool
	closed  bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// register adds a worker before it starts claiming
func (q *jobQueue) register(w *Worker) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.workers = append(q.workers, w)
	q.live++
}

// push enqueues the jobs of a playlist. Jobs pushed after a close request
// are dropped.
func (q *jobQueue) push(jobs []*Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing || q.closed {
		return
	}
	q.jobs = append(q.jobs, jobs...)
	monitoring.UpdateQueueSize(len(q.jobs))
	q.cond.Broadcast()
}

// claim blocks until w can take a job. It returns false once the queue is
// shut down.
func (q *jobQueue) claim(w *Worker) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		switch {
		case q.closed:
			w.state = Closed
			return nil, false
		case w.paused:
			w.state = Paused
		case len(q.jobs) > 0:
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			w.state = Working
			q.working++
			monitoring.UpdateQueueSize(len(q.jobs))
			return job, true
		default:
			w.state = Idle
		}
		q.cond.Wait()
	}
}

// release returns a worker to Idle after its job
func (q *jobQueue) release(w *Worker) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.working--
	w.state = Idle
	q.cond.Broadcast()
}

// retire closes a worker for good after its job
func (q *jobQueue) retire(w *Worker) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.working--
	q.live--
	w.state = Closed
	q.cond.Broadcast()
}

// waitDrain blocks until no job is queued and no worker is Working. If every
// worker has retired while jobs remain, the jobs are dropped and
// ErrNoWorkers is returned.
func (q *jobQueue) waitDrain() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.jobs) == 0 && q.working == 0 {
			return nil
		}
		if q.live == 0 {
			q.jobs = nil
			monitoring.UpdateQueueSize(0)
			return ErrNoWorkers
		}
		q.cond.Wait()
	}
}

// setPaused sets every worker's Paused flag. Queued jobs stay queued.
func (q *jobQueue) setPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.workers {
		w.paused = paused
	}
	q.cond.Broadcast()
}

// requestClose drops the unclaimed jobs and refuses new ones. Claimed jobs
// run to completion. It returns the number of dropped jobs.
func (q *jobQueue) requestClose() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.jobs)
	q.closing = true
	q.jobs = nil
	monitoring.UpdateQueueSize(0)
	q.cond.Broadcast()
	return dropped
}

func (q *jobQueue) isClosing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closing
}

// shutdown wakes every worker and makes claim return false
func (q *jobQueue) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// stats returns the number of queued jobs and Working workers
func (q *jobQueue) stats() (queued, working int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), q.working
}
