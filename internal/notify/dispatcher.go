// Package notify fans committed ledger notifications out to subscribers.
package notify

import (
	"context"
	"sync"

	"medichain/internal/log"
	"medichain/pkg/domain"
)

// Handler receives one committed notification.
type Handler func(ctx context.Context, n domain.Notification) error

// Dispatcher delivers notifications to subscribers in subscription order.
// A failing subscriber is logged and does not stop delivery to the rest.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id      int
	name    string
	handler Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers handler under name and returns a function removing it.
func (d *Dispatcher) Subscribe(name string, handler Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, name: name, handler: handler})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Len reports the number of active subscribers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Dispatch delivers each notification to every subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []domain.Notification) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()
	for _, n := range notifications {
		for _, s := range subs {
			if err := s.handler(ctx, n); err != nil {
				log.L(ctx).WithError(err).
					WithField("subscriber", s.name).
					WithField("kind", string(n.Kind)).
					Warn("notification subscriber failed")
			}
		}
	}
}
