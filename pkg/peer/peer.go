// Package peer carries change notifications between workbench contexts
// (processes, browser tabs behind the relay, CLI invocations). A Peer owns an
// identity, sends typed messages over a Transport and hands received
// messages to the processors registered for their type.
package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one cross-context notification.
type Message struct {
	Type      string    `json:"type"`
	Namespace string    `json:"namespace"`
	Keys      []string  `json:"keys"`
	NewValue  any       `json:"newValue"`
	OldValue  any       `json:"oldValue,omitempty"`
	Sender    string    `json:"sender"`
	Time      time.Time `json:"time"`
}

// Processor handles the message types it names.
type Processor interface {
	Types() []string
	Process(msg Message)
}

// Transport moves messages between peers. A transport may echo a message
// back to its publisher; peers drop their own messages by Sender.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(fn func(Message)) (unsubscribe func())
}

// Peer is one participant in cross-context messaging.
type Peer struct {
	id        string
	transport Transport

	mu         sync.RWMutex
	processors map[string][]Processor
	unsub      func()
	closed     bool
}

// New creates a peer with a fresh identity listening on t.
func New(t Transport) *Peer {
	p := &Peer{
		id:         uuid.NewString(),
		transport:  t,
		processors: make(map[string][]Processor),
	}
	p.unsub = t.Subscribe(p.receive)
	return p
}

// ID returns the peer identity carried as Sender.
func (p *Peer) ID() string { return p.id }

// AddProcessor registers pr for every type it reports.
func (p *Peer) AddProcessor(pr Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, typ := range pr.Types() {
		p.processors[typ] = append(p.processors[typ], pr)
	}
}

// RemoveProcessor unregisters pr.
func (p *Peer) RemoveProcessor(pr Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, typ := range pr.Types() {
		list := p.processors[typ]
		for i, existing := range list {
			if existing == pr {
				p.processors[typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(p.processors[typ]) == 0 {
			delete(p.processors, typ)
		}
	}
}

// Send publishes msg under typ, stamped with this peer's identity.
func (p *Peer) Send(ctx context.Context, typ string, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg.Type = typ
	msg.Sender = p.id
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	return p.transport.Publish(ctx, msg)
}

func (p *Peer) receive(msg Message) {
	if msg.Sender == p.id {
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	list := append([]Processor(nil), p.processors[msg.Type]...)
	p.mu.RUnlock()

	if len(list) == 0 {
		slog.Debug("Peer: no processor for message", "type", msg.Type, "sender", msg.Sender)
		return
	}
	for _, pr := range list {
		pr.Process(msg)
	}
}

// Close stops receiving.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	unsub := p.unsub
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
