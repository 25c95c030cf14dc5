// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"fmt"
	"sync"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/tunnel"
)

// State is the externally observed snapshot of the manager.  It lives in
// memory only.
type State struct {
	TunnelState tunnel.State

	// Statistics only carry meaning while TunnelState is Up.
	Statistics tunnel.Statistics

	BackendMessage tunnel.BackendMessage

	IsMnemonicStored bool

	// AccountLinks is nil until a credential is known to be stored and
	// the links could be fetched.
	AccountLinks *backend.AccountLinks
}

func initialState() State {
	return State{
		TunnelState:    tunnel.Down,
		BackendMessage: tunnel.None{},
	}
}

func (s State) equal(o State) bool {
	return s.TunnelState == o.TunnelState &&
		s.Statistics == o.Statistics &&
		s.BackendMessage == o.BackendMessage &&
		s.IsMnemonicStored == o.IsMnemonicStored &&
		s.AccountLinks == o.AccountLinks
}

// String returns a string representation of the State.
func (s State) String() string {
	return fmt.Sprintf("%v stats=[%v] msg=%v mnemonic=%v", s.TunnelState, s.Statistics, s.BackendMessage, s.IsMnemonicStored)
}

// Subscription delivers every distinct State, in order, starting with
// the State current at subscription time.  Slow subscribers never block
// the manager; their backlog is queued.
type Subscription struct {
	// C is closed when the subscription is closed or the manager halts.
	C <-chan State

	hub *hub
	id  uint64
	c   chan State

	mu      sync.Mutex
	queue   []State
	wakeCh  chan struct{}
	closeCh chan struct{}
	once    sync.Once
}

// Close stops the delivery and closes C.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.closeCh)
	})
}

func (s *Subscription) push(st State) {
	s.mu.Lock()
	s.queue = append(s.queue, st)
	s.mu.Unlock()
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.c)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, st := range pending {
			select {
			case s.c <- st:
			case <-s.closeCh:
				return
			}
		}

		select {
		case <-s.wakeCh:
		case <-s.closeCh:
			return
		}
	}
}

// hub holds the authoritative State.  Every mutation goes through update,
// so readers never observe a torn State.
type hub struct {
	sync.Mutex

	state  State
	subs   map[uint64]*Subscription
	nextID uint64
	halted bool
}

func newHub() *hub {
	return &hub{
		state: initialState(),
		subs:  make(map[uint64]*Subscription),
	}
}

func (h *hub) snapshot() State {
	h.Lock()
	defer h.Unlock()
	return h.state
}

// update applies fn to the current State and fans the result out to the
// subscribers, unless it is equal to the current State.
func (h *hub) update(fn func(State) State) State {
	h.Lock()
	defer h.Unlock()

	next := fn(h.state)
	if next.equal(h.state) {
		return h.state
	}
	h.state = next
	for _, sub := range h.subs {
		sub.push(next)
	}
	return next
}

func (h *hub) subscribe() *Subscription {
	c := make(chan State)
	s := &Subscription{
		C:       c,
		hub:     h,
		c:       c,
		wakeCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	h.Lock()
	defer h.Unlock()
	if h.halted {
		close(c)
		return s
	}
	s.id = h.nextID
	h.nextID++
	h.subs[s.id] = s
	s.push(h.state)
	go s.pump()
	return s
}

func (h *hub) unsubscribe(id uint64) {
	h.Lock()
	defer h.Unlock()
	delete(h.subs, id)
}

func (h *hub) halt() {
	h.Lock()
	defer h.Unlock()
	h.halted = true
	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
}
