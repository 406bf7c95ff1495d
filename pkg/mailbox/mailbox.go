// Package mailbox provides a single-slot, overwrite-on-publish mailbox with
// blocking receive.
//
// Semantics:
//   - Publish never blocks; a new value replaces an unconsumed one (counted as a drop)
//   - Receive blocks until a value is available, the context ends, or Close is called
//   - A published value is handed to at most one receiver
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("mailbox: closed")

type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	full   bool
	closed bool

	published uint64
	drops     uint64
}

func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores v, replacing any value nobody received yet.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.full {
		m.drops++
	}
	m.value = v
	m.full = true
	m.published++
	m.cond.Signal()
}

// TryReceive takes the pending value without blocking.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.take()
}

// Receive blocks until a value is published.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	// sync.Cond cannot select on ctx; wake waiters when it ends
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.full && !m.closed && ctx.Err() == nil {
		m.cond.Wait()
	}
	if v, ok := m.take(); ok {
		return v, nil
	}
	var zero T
	if m.closed {
		return zero, ErrClosed
	}
	return zero, ctx.Err()
}

func (m *Mailbox[T]) take() (T, bool) {
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Close wakes all receivers; later Publish calls are ignored.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// Stats returns the number of published and overwritten values.
func (m *Mailbox[T]) Stats() (published, drops uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.drops
}
