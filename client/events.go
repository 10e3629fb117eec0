package client

import (
	"context"
	"sync"

	"github.com/aster-network/aster/api"
	"github.com/aster-network/aster/build"
)

// eventHub fans progress events out to subscribers. Delivery is best
// effort: a subscriber that stops draining loses its oldest events, it
// never blocks an upload.
type eventHub struct {
	lk     sync.Mutex
	subs   map[int]chan api.ClientEvent
	nextID int
	closed bool
	done   chan struct{}
}

func newEventHub() *eventHub {
	return &eventHub{
		subs: make(map[int]chan api.ClientEvent),
		done: make(chan struct{}),
	}
}

func (h *eventHub) publish(evt api.ClientEvent) {
	if evt.Time.IsZero() {
		evt.Time = build.Clock.Now()
	}

	h.lk.Lock()
	defer h.lk.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// full; drop the oldest so fresh progress wins
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (h *eventHub) subscribe(ctx context.Context) (<-chan api.ClientEvent, error) {
	h.lk.Lock()
	defer h.lk.Unlock()
	if h.closed {
		return nil, context.Canceled
	}

	id := h.nextID
	h.nextID++
	ch := make(chan api.ClientEvent, build.ClientEventBuffer)
	h.subs[id] = ch

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
			return // close() already shut the channel
		}
		h.lk.Lock()
		defer h.lk.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}()

	return ch, nil
}

func (h *eventHub) close() {
	h.lk.Lock()
	defer h.lk.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
