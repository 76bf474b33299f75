package peer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when sending through a closed peer or transport.
var ErrClosed = errors.New("peer transport closed")

// Hub is an in-process transport. Each subscriber has its own ordered queue
// drained by one goroutine, so a slow processor never blocks the sender.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe registers fn. Messages reach fn in publish order.
func (h *Hub) Subscribe(fn func(Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	s := &subscriber{ch: make(chan Message, 256), done: make(chan struct{})}
	h.subs[id] = s

	go func() {
		for {
			select {
			case msg := <-s.ch:
				fn(msg)
			case <-s.done:
				return
			}
		}
	}()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		s.stop()
	}
}

// Publish queues msg for every subscriber.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			slog.Warn("Peer: hub publish abandoned", "type", msg.Type, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return nil
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}
