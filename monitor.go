package bmail

import (
	"context"
	"fmt"
	"sync"
)

// Subscription represents an active subscription that can be unsubscribed.
type Subscription interface {
	// Unsubscribe stops the subscription and releases resources.
	Unsubscribe()
}

// MessageCallback is called when a new message arrives for client.
type MessageCallback func(client *Client, msg *Message)

// Monitor watches the inboxes of several clients, typically one per
// identity, and fans new messages out to registered callbacks.
type Monitor struct {
	clients       []*Client
	callbacks     []MessageCallback
	mu            sync.RWMutex
	started       bool
	unsubscribers []func()
}

// internalSubscription implements the Subscription interface.
type internalSubscription struct {
	cancel func()
}

func (s *internalSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewMonitor returns a monitor for the given clients. Nothing is watched
// until the first callback is registered.
func NewMonitor(clients ...*Client) *Monitor {
	return &Monitor{
		clients: clients,
	}
}

// OnMessage registers a callback for new messages in any monitored inbox
// and starts watching if needed. The returned Subscription removes only
// this callback.
func (m *Monitor) OnMessage(ctx context.Context, callback MessageCallback) (Subscription, error) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	callbackIndex := len(m.callbacks) - 1
	m.mu.Unlock()

	if err := m.start(ctx); err != nil {
		m.mu.Lock()
		m.callbacks[callbackIndex] = nil
		m.mu.Unlock()
		return nil, err
	}

	return &internalSubscription{
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// Indices stay stable; the slot is cleared instead.
			if callbackIndex < len(m.callbacks) {
				m.callbacks[callbackIndex] = nil
			}
		},
	}, nil
}

// Unsubscribe stops monitoring every inbox and drops all callbacks.
func (m *Monitor) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsub := range m.unsubscribers {
		unsub()
	}
	m.callbacks = nil
	m.unsubscribers = nil
	m.started = false
}

func (m *Monitor) start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	var unsubs []func()
	fail := func(client *Client, err error) error {
		for _, unsub := range unsubs {
			unsub()
		}
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return fmt.Errorf("monitor %s: %w", client.Identity(), err)
	}
	for _, client := range m.clients {
		client := client
		if err := client.checkClosed(); err != nil {
			return fail(client, err)
		}
		mailbox, err := client.Address(ctx)
		if err != nil {
			return fail(client, err)
		}
		unsubs = append(unsubs, client.subs.subscribe(mailbox, func(msg *Message) {
			m.emit(client, msg)
		}))
		if err := client.startWatching(ctx); err != nil {
			return fail(client, err)
		}
	}

	m.mu.Lock()
	m.unsubscribers = append(m.unsubscribers, unsubs...)
	m.mu.Unlock()
	return nil
}

// emit calls all registered callbacks with the new message.
func (m *Monitor) emit(client *Client, msg *Message) {
	m.mu.RLock()
	callbacks := make([]MessageCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	for _, callback := range callbacks {
		if callback != nil {
			go callback(client, msg)
		}
	}
}
