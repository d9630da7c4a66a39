package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AutoStrategy subscribes when the node supports it and polls otherwise.
type AutoStrategy struct {
	cfg         Config
	mu          sync.RWMutex
	current     Strategy
	onReconnect func(ctx context.Context)
}

// NewAutoStrategy creates a new auto strategy.
func NewAutoStrategy(cfg Config) *AutoStrategy {
	return &AutoStrategy{
		cfg: cfg.withDefaults(),
	}
}

// Name returns the strategy name.
func (a *AutoStrategy) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current != nil {
		return "auto:" + a.current.Name()
	}
	return "auto"
}

// OnReconnect sets the callback run after each resubscription.
func (a *AutoStrategy) OnReconnect(fn func(ctx context.Context)) {
	a.mu.Lock()
	a.onReconnect = fn
	cur := a.current
	a.mu.Unlock()
	if cur != nil {
		cur.OnReconnect(fn)
	}
}

// Start tries a subscription first and falls back to polling when it does
// not come up within SubscribeTimeout.
func (a *AutoStrategy) Start(ctx context.Context, mailboxes []common.Address, handler EventHandler) error {
	if a.cfg.Subscriber != nil {
		sub := NewSubscriptionStrategy(a.cfg)
		a.mu.RLock()
		if a.onReconnect != nil {
			sub.OnReconnect(a.onReconnect)
		}
		a.mu.RUnlock()

		if err := sub.Start(ctx, mailboxes, handler); err == nil {
			select {
			case <-sub.Connected():
				a.setCurrent(sub)
				return nil
			case <-sub.Done():
				sub.Stop()
			case <-time.After(a.cfg.SubscribeTimeout):
				sub.Stop()
			case <-ctx.Done():
				sub.Stop()
				return ctx.Err()
			}
		}
	}
	return a.startPolling(ctx, mailboxes, handler)
}

func (a *AutoStrategy) startPolling(ctx context.Context, mailboxes []common.Address, handler EventHandler) error {
	polling := NewPollingStrategy(a.cfg)
	if err := polling.Start(ctx, mailboxes, handler); err != nil {
		return err
	}
	a.setCurrent(polling)
	return nil
}

func (a *AutoStrategy) setCurrent(s Strategy) {
	a.mu.Lock()
	a.current = s
	a.mu.Unlock()
}

func (a *AutoStrategy) get() Strategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Stop gracefully shuts down the strategy.
func (a *AutoStrategy) Stop() error {
	if cur := a.get(); cur != nil {
		return cur.Stop()
	}
	return nil
}

// AddMailbox adds a mailbox to watch.
func (a *AutoStrategy) AddMailbox(addr common.Address) error {
	if cur := a.get(); cur != nil {
		return cur.AddMailbox(addr)
	}
	return nil
}

// RemoveMailbox removes a mailbox from watching.
func (a *AutoStrategy) RemoveMailbox(addr common.Address) error {
	if cur := a.get(); cur != nil {
		return cur.RemoveMailbox(addr)
	}
	return nil
}
