package scheduler

import (
	"github.com/appcelera/pacer/pkg/types"
)

// pending is one request waiting for admission. Exactly one of admit or
// cancelled is closed, under the scheduler lock, so a waiter never observes
// both.
type pending struct {
	req       *types.Request
	admit     chan struct{}
	cancelled chan struct{}
}

func newPending(req *types.Request) *pending {
	return &pending{
		req:       req,
		admit:     make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

// priorityQueues holds one FIFO band per queueable priority. Critical
// requests bypass admission and are never queued.
type priorityQueues struct {
	bands [3][]*pending // indexed by types.Priority: low, normal, high
}

// push appends p to its priority band.
func (q *priorityQueues) push(p *pending) {
	band := p.req.Priority
	if band > types.PriorityHigh {
		band = types.PriorityHigh
	}
	q.bands[band] = append(q.bands[band], p)
}

// pop removes and returns the head of the highest non-empty band,
// preserving FIFO within a band. Returns nil when every band is empty.
func (q *priorityQueues) pop() *pending {
	for band := types.PriorityHigh; band >= types.PriorityLow; band-- {
		if len(q.bands[band]) > 0 {
			p := q.bands[band][0]
			q.bands[band] = q.bands[band][1:]
			return p
		}
	}
	return nil
}

// remove unlinks p from its band. Reports whether p was still queued.
func (q *priorityQueues) remove(p *pending) bool {
	band := p.req.Priority
	if band > types.PriorityHigh {
		band = types.PriorityHigh
	}
	for i, queued := range q.bands[band] {
		if queued == p {
			q.bands[band] = append(q.bands[band][:i], q.bands[band][i+1:]...)
			return true
		}
	}
	return false
}

// removeByID unlinks the first queued request with the given id.
func (q *priorityQueues) removeByID(id string) *pending {
	for band := range q.bands {
		for i, queued := range q.bands[band] {
			if queued.req.ID == id {
				q.bands[band] = append(q.bands[band][:i], q.bands[band][i+1:]...)
				return queued
			}
		}
	}
	return nil
}

// drain empties every band and returns the removed entries.
func (q *priorityQueues) drain() []*pending {
	var all []*pending
	for band := range q.bands {
		all = append(all, q.bands[band]...)
		q.bands[band] = nil
	}
	return all
}

// size returns the total queued count across bands.
func (q *priorityQueues) size() int {
	n := 0
	for band := range q.bands {
		n += len(q.bands[band])
	}
	return n
}
