package bmail

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/praveen5665/bmail/internal/delivery"
)

// startWatching starts the delivery strategy for the caller's mailbox the
// first time it is needed. Messages already in the mailbox are marked seen
// so only later arrivals are reported. Callers subscribe before calling it
// so the catch-up after start reaches them.
func (c *Client) startWatching(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.mu.RLock()
	closed, watching := c.closed, c.watching
	c.mu.RUnlock()
	if closed {
		return ErrClientClosed
	}
	if watching {
		return nil
	}

	self, err := c.Address(ctx)
	if err != nil {
		return err
	}
	ids, err := c.ledger.ListByAddress(ctx, self)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, id := range ids {
		c.seen[id] = struct{}{}
	}
	c.mailbox = self
	c.mu.Unlock()

	// AutoStrategy may block for its subscribe timeout, so c.mu is not held.
	c.strategy.OnReconnect(c.syncInbox)
	if err := c.strategy.Start(c.strategyCtx, []common.Address{self}, c.handleEvent); err != nil {
		return fmt.Errorf("start delivery strategy: %w", err)
	}
	c.waitConnected(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.strategy.Stop()
		return ErrClientClosed
	}
	c.watching = true
	c.mu.Unlock()
	c.log.Noticef("Watching %s for new messages (%s)", self.Hex(), c.strategy.Name())

	// Ids mined between the listing above and the strategy taking over.
	c.syncInbox(ctx)
	return nil
}

// waitConnected blocks until a subscription strategy has subscribed or
// given up, bounded by the subscribe timeout.
func (c *Client) waitConnected(ctx context.Context) {
	s, ok := c.strategy.(interface {
		Connected() <-chan struct{}
		Done() <-chan struct{}
	})
	if !ok {
		return
	}
	timer := time.NewTimer(c.subscribeTimeout)
	defer timer.Stop()
	select {
	case <-s.Connected():
	case <-s.Done():
	case <-timer.C:
		c.log.Warningf("Subscription not up after %v, catching up by listing", c.subscribeTimeout)
	case <-ctx.Done():
	}
}

// Watch returns a channel that receives inbox messages as they arrive.
// The channel is not closed when the context is cancelled; use a select
// on ctx.Done() to detect cancellation.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//
//	ch, err := client.Watch(ctx)
//	if err != nil {
//	    return err
//	}
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return nil
//	    case msg := <-ch:
//	        fmt.Printf("New message %d\n", msg.ID)
//	    }
//	}
func (c *Client) Watch(ctx context.Context) (<-chan *Message, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	mailbox, err := c.Address(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 16)
	unsubscribe := c.subs.subscribe(mailbox, func(msg *Message) {
		select {
		case ch <- msg:
		default:
			c.log.Warningf("Watcher is not keeping up, dropped message %d", msg.ID)
		}
	})
	if err := c.startWatching(ctx); err != nil {
		unsubscribe()
		return nil, err
	}

	// ch is never closed so an in-flight callback cannot send on a
	// closed channel.
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return ch, nil
}

// WatchFunc calls fn for each inbox message as it arrives until the
// context is cancelled.
func (c *Client) WatchFunc(ctx context.Context, fn func(*Message)) error {
	messages, err := c.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			if msg != nil {
				fn(msg)
			}
		}
	}
}

// WaitForMessage waits for an inbox message matching the given criteria.
// Messages already in the inbox are considered first.
func (c *Client) WaitForMessage(ctx context.Context, opts ...WaitOption) (*Message, error) {
	msgs, err := c.WaitForMessageCount(ctx, 1, opts...)
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// WaitForMessageCount waits until at least count matching inbox messages
// are found.
func (c *Client) WaitForMessageCount(ctx context.Context, count int, opts ...WaitOption) ([]*Message, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must be non-negative, got %d", count)
	}
	if count == 0 {
		return []*Message{}, nil
	}

	cfg := &waitConfig{
		timeout: defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	seen := make(map[uint64]struct{})
	var results []*Message

	addIfNew := func(m *Message) {
		if _, ok := seen[m.ID]; ok {
			return
		}
		if cfg.Matches(m) {
			seen[m.ID] = struct{}{}
			results = append(results, m)
		}
	}

	// Watch before listing so nothing arriving in between is missed.
	messages, err := c.Watch(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := c.ListInbox(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		addIfNew(m)
		if len(results) >= count {
			return results[:count], nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-messages:
			if msg != nil {
				addIfNew(msg)
				if len(results) >= count {
					return results[:count], nil
				}
			}
		}
	}
}

// handleEvent processes a new id reported by the delivery strategy.
func (c *Client) handleEvent(ctx context.Context, event *delivery.Event) error {
	if event == nil {
		return nil
	}

	c.mu.RLock()
	_, dup := c.seen[event.ID]
	c.mu.RUnlock()
	if dup {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	rec, err := c.ledger.Get(ctx, event.ID)
	if err != nil {
		c.reportSyncError(err)
		return err
	}
	if rec.IsDraft {
		// Not seen yet: the draft may still be sent.
		return nil
	}
	if !FolderInbox.contains(rec, event.Mailbox) {
		c.markSeen(rec.ID)
		return nil
	}

	priv, err := c.parsedPrivateKey(ctx)
	if err != nil {
		c.reportSyncError(err)
		return err
	}
	msg := c.open(ctx, rec, priv)

	if !c.markSeen(rec.ID) {
		return nil
	}
	c.subs.notify(event.Mailbox, msg)
	return nil
}

// markSeen records id as delivered and reports whether it was new.
func (c *Client) markSeen(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

// syncInbox delivers ids that arrived while the event subscription was
// down. It is run after every resubscription.
func (c *Client) syncInbox(ctx context.Context) {
	c.mu.RLock()
	if c.closed || !c.watching {
		c.mu.RUnlock()
		return
	}
	mailbox := c.mailbox
	c.mu.RUnlock()

	ids, err := c.ledger.ListByAddress(ctx, mailbox)
	if err != nil {
		c.reportSyncError(err)
		return
	}

	c.mu.RLock()
	var missed []uint64
	for _, id := range ids {
		if _, ok := c.seen[id]; !ok {
			missed = append(missed, id)
		}
	}
	c.mu.RUnlock()

	if len(missed) > 0 {
		c.log.Infof("Catching up on %d ids after reconnect", len(missed))
	}
	for _, id := range missed {
		_ = c.handleEvent(ctx, &delivery.Event{Mailbox: mailbox, ID: id})
	}
}

func (c *Client) reportSyncError(err error) {
	c.log.Warningf("Background delivery failed: %v", err)
	if c.onSyncError != nil {
		c.onSyncError(err)
	}
}
