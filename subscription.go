package bmail

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// subscription represents an active message subscription.
type subscription struct {
	id       string
	mailbox  common.Address
	callback func(*Message)
	active   atomic.Bool
}

// subscriptionManager handles message subscriptions with safe lifecycle
// management. Callbacks are never invoked after unsubscription completes.
type subscriptionManager struct {
	mu     sync.RWMutex
	subs   map[common.Address]map[string]*subscription // mailbox -> subID -> subscription
	nextID atomic.Uint64
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{
		subs: make(map[common.Address]map[string]*subscription),
	}
}

// subscribe registers a callback for messages arriving in mailbox and
// returns the function that removes it.
func (m *subscriptionManager) subscribe(mailbox common.Address, callback func(*Message)) func() {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{
		id:       id,
		mailbox:  mailbox,
		callback: callback,
	}
	sub.active.Store(true)

	m.mu.Lock()
	if m.subs[mailbox] == nil {
		m.subs[mailbox] = make(map[string]*subscription)
	}
	m.subs[mailbox][id] = sub
	m.mu.Unlock()

	return func() {
		m.unsubscribe(mailbox, id)
	}
}

// unsubscribe removes a subscription. Safe to call multiple times.
func (m *subscriptionManager) unsubscribe(mailbox common.Address, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mailboxSubs, ok := m.subs[mailbox]; ok {
		if sub, ok := mailboxSubs[subID]; ok {
			sub.active.Store(false)
			delete(mailboxSubs, subID)
			if len(mailboxSubs) == 0 {
				delete(m.subs, mailbox)
			}
		}
	}
}

// count returns the number of subscriptions for mailbox.
func (m *subscriptionManager) count(mailbox common.Address) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[mailbox])
}

// notify calls every callback registered for mailbox, outside the lock.
func (m *subscriptionManager) notify(mailbox common.Address, msg *Message) {
	m.mu.RLock()
	mailboxSubs := m.subs[mailbox]
	if len(mailboxSubs) == 0 {
		m.mu.RUnlock()
		return
	}

	subs := make([]*subscription, 0, len(mailboxSubs))
	for _, sub := range mailboxSubs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(msg)
		}
	}
}

// clear removes all subscriptions. Called during Client.Close().
func (m *subscriptionManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mailboxSubs := range m.subs {
		for _, sub := range mailboxSubs {
			sub.active.Store(false)
		}
	}
	m.subs = make(map[common.Address]map[string]*subscription)
}
