// Package deferred implements a queue of closures whose execution is postponed
// until its owner decides it is safe to run them. The GPU layer uses it to
// release resources only after the work referencing them has retired.
package deferred

import (
	"sync"
)

// Request is a unit of deferred work.
type Request func()

// Queue is a FIFO of requests. Any goroutine may add requests; applying them
// is meant to be done by a single owner.
//
// The zero value is an empty queue ready for use.
type Queue struct {
	mu       sync.Mutex
	requests []Request
}

// AddRequest appends req to the queue. Nil requests are ignored.
func (q *Queue) AddRequest(req Request) {
	if req == nil {
		return
	}
	q.mu.Lock()
	q.requests = append(q.requests, req)
	q.mu.Unlock()
}

// ApplyRequests runs every request queued so far, in insertion order, and
// returns how many ran. The queue is swapped out before running anything, so
// requests added while applying (including by the requests themselves) are
// left for the next call.
func (q *Queue) ApplyRequests() int {
	q.mu.Lock()
	requests := q.requests
	q.requests = nil
	q.mu.Unlock()

	for i, req := range requests {
		requests[i] = nil
		req()
	}
	return len(requests)
}

// ClearRequests drops every queued request without running it and returns how
// many were dropped.
func (q *Queue) ClearRequests() int {
	q.mu.Lock()
	n := len(q.requests)
	q.requests = nil
	q.mu.Unlock()
	return n
}

// AmountOfRequests returns the number of requests waiting to be applied.
func (q *Queue) AmountOfRequests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
