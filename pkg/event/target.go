// Package event provides a small typed publish/subscribe target.
package event

import "sync"

type listener[E any] struct {
	fn      func(E)
	removed bool
}

// Target dispatches events of type E to listeners registered for a type key
// or for every event. Listeners added while a dispatch is running do not see
// the in-flight event. Listeners removed while a dispatch is running are not
// called for it if they have not been reached yet.
type Target[E any] struct {
	mu     sync.Mutex
	byType map[string][]*listener[E]
	all    []*listener[E]
}

// NewTarget creates an empty Target.
func NewTarget[E any]() *Target[E] {
	return &Target[E]{byType: make(map[string][]*listener[E])}
}

// Listen registers fn for events dispatched with the given type. The returned
// function removes the listener and is safe to call more than once.
func (t *Target[E]) Listen(typ string, fn func(E)) func() {
	l := &listener[E]{fn: fn}

	t.mu.Lock()
	if t.byType == nil {
		t.byType = make(map[string][]*listener[E])
	}
	t.byType[typ] = append(t.byType[typ], l)
	t.mu.Unlock()

	return func() { t.remove(typ, l) }
}

// ListenAll registers fn for every dispatched event.
func (t *Target[E]) ListenAll(fn func(E)) func() {
	l := &listener[E]{fn: fn}

	t.mu.Lock()
	t.all = append(t.all, l)
	t.mu.Unlock()

	return func() { t.remove("", l) }
}

func (t *Target[E]) remove(typ string, l *listener[E]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l.removed = true
	list := t.all
	if typ != "" {
		list = t.byType[typ]
	}

	out := list[:0:0]
	for _, cur := range list {
		if cur != l {
			out = append(out, cur)
		}
	}

	if typ == "" {
		t.all = out
	} else if len(out) == 0 {
		delete(t.byType, typ)
	} else {
		t.byType[typ] = out
	}
}

// Dispatch delivers e synchronously to the type listeners first, then to the
// catch-all listeners, in registration order.
func (t *Target[E]) Dispatch(typ string, e E) {
	t.mu.Lock()
	snapshot := make([]*listener[E], 0, len(t.byType[typ])+len(t.all))
	snapshot = append(snapshot, t.byType[typ]...)
	snapshot = append(snapshot, t.all...)
	t.mu.Unlock()

	for _, l := range snapshot {
		t.mu.Lock()
		removed := l.removed
		t.mu.Unlock()
		if removed {
			continue
		}
		l.fn(e)
	}
}

// HasListeners reports whether anything listens for typ, including catch-all
// listeners.
func (t *Target[E]) HasListeners(typ string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byType[typ]) > 0 || len(t.all) > 0
}

// RemoveAll drops every listener.
func (t *Target[E]) RemoveAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, list := range t.byType {
		for _, l := range list {
			l.removed = true
		}
	}
	for _, l := range t.all {
		l.removed = true
	}
	t.byType = make(map[string][]*listener[E])
	t.all = nil
}
