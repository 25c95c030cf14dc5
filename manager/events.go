// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"sync"

	"github.com/katzenpost/mixvpn/tunnel"
)

// Backend callbacks are turned into events tagged with the attempt that
// produced them, and queued for the worker.
type stateEvent struct {
	attempt uint64
	state   tunnel.State
}

type messageEvent struct {
	attempt uint64
	msg     tunnel.BackendMessage
}

type statisticEvent struct {
	attempt uint64
	stats   tunnel.Statistics
}

type loadAccountEvent struct{}

// eventQueue is an unbounded FIFO.  Pushing never blocks, so the backend
// may invoke callbacks from any goroutine, including from within Start.
type eventQueue struct {
	sync.Mutex

	items  []interface{}
	wakeCh chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		wakeCh: make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(ev interface{}) {
	q.Lock()
	q.items = append(q.items, ev)
	q.Unlock()
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []interface{} {
	q.Lock()
	defer q.Unlock()
	items := q.items
	q.items = nil
	return items
}
