// Package hub fans session snapshots out to observers. The session publishes
// from its tick goroutine and never waits on a slow observer.
package hub

import (
	"context"
	"sync"

	"github.com/DoyleJ11/lobbysync/pkg/types"
)

type HubMsg interface{ isHubMsg() }

type Subscribe struct {
	ID     string
	Outbox chan types.Snapshot // where this observer wants to receive snapshots
}

type Unsubscribe struct{ ID string }

type ShutdownHub struct{}

func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	notify chan struct{}
	subs   map[string]chan types.Snapshot
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	latest types.Snapshot
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		notify: make(chan struct{}, 1),
		subs:   make(map[string]chan types.Snapshot),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Publish records snap as the latest snapshot and wakes the fan-out.
// Snapshots published faster than observers drain them are coalesced.
func (h *Hub) Publish(snap types.Snapshot) {
	h.mu.Lock()
	h.latest = snap
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() types.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-h.notify:
			h.broadcast(h.Latest())

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe:
				if old, ok := h.subs[msg.ID]; ok && old != msg.Outbox {
					close(old) // replaced
				}
				h.subs[msg.ID] = msg.Outbox
				if snap := h.Latest(); snap.Version > 0 {
					h.deliver(msg.ID, msg.Outbox, snap)
				}

			case Unsubscribe:
				if ch, ok := h.subs[msg.ID]; ok {
					close(ch)
					delete(h.subs, msg.ID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.subs {
		close(ch) // no more snapshots
		delete(h.subs, id)
	}
	h.cancel()
}

func (h *Hub) broadcast(snap types.Snapshot) {
	for id, ch := range h.subs {
		h.deliver(id, ch, snap)
	}
}

func (h *Hub) deliver(id string, ch chan types.Snapshot, snap types.Snapshot) {
	select {
	case ch <- snap:
	default:
		// Observer is slow/full - drop them.
		close(ch)
		delete(h.subs, id)
	}
}
