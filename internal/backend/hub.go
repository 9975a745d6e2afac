package backend

import (
	"context"
	"sync"
)

// Hub is an in-process Realtime implementation. Publish delivers events
// synchronously on the publisher's goroutine, after the caller has released
// any store locks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]hubSubscriber
	nextID uint64
}

type hubSubscriber struct {
	table   string
	filter  Filter
	handler Handler
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]hubSubscriber{}}
}

func (h *Hub) Subscribe(ctx context.Context, table string, filter Filter, handler Handler) (Subscription, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = hubSubscriber{table: table, filter: filter, handler: handler}
	h.mu.Unlock()

	sub := &hubSubscription{hub: h, id: id, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish fans an event out to every matching subscriber.
func (h *Hub) Publish(event ChangeEvent) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, s := range h.subs {
		if s.table != event.Table {
			continue
		}
		if !s.filter.Match(event.Record()) {
			continue
		}
		handlers = append(handlers, s.handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type hubSubscription struct {
	hub  *Hub
	id   uint64
	once sync.Once
	done chan struct{}
}

func (s *hubSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}
