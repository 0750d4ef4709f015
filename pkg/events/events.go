// Package events is an in-process publish/subscribe registry for skill
// lifecycle notifications. Each event type has its own Topic; handlers run
// synchronously on the publishing goroutine in subscription order.
package events

import (
	"context"
	"sync"
	"time"
)

// OperationKind names what finished.
type OperationKind string

const (
	KindInstall  OperationKind = "install"
	KindRemove   OperationKind = "remove"
	KindUpdate   OperationKind = "update"
	KindRefresh  OperationKind = "refresh"
	KindExternal OperationKind = "external"
)

// OperationCompleted is published when something may have changed the
// installed skills on disk.
type OperationCompleted struct {
	Kind   OperationKind
	Target string
	Err    error
	At     time.Time
}

// InstallDetected is published once per skill that appeared since the
// previous reconciliation.
type InstallDetected struct {
	Name       string
	FolderName string
	Source     string
}

// ReconcileCompleted summarizes a finished reconciliation cycle.
type ReconcileCompleted struct {
	CycleID string
	Added   []string
	Removed []string
	Total   int
	At      time.Time
}

// Handler receives published events.
type Handler[T any] func(ctx context.Context, event T)

type subscriber[T any] struct {
	id uint64
	fn Handler[T]
}

// Topic fans one event type out to its subscribers.
type Topic[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers fn and returns its unsubscribe token.
func (t *Topic[T]) Subscribe(fn Handler[T]) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})

	return &Subscription{cancel: func() { t.remove(id) }}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber. Handlers may
// subscribe or unsubscribe while being called.
func (t *Topic[T]) Publish(ctx context.Context, event T) {
	t.mu.RLock()
	subs := append([]subscriber[T](nil), t.subs...)
	t.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, event)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the topics used by skilldeck.
type Bus struct {
	OperationCompleted Topic[OperationCompleted]
	InstallDetected    Topic[InstallDetected]
	ReconcileCompleted Topic[ReconcileCompleted]
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}
