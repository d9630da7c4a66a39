package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/log"
)

const (
	MaxReconnectAttempts = 10
)

var errSubscriptionClosed = errors.New("delivery: subscription closed by node")

// SubscriptionStrategy receives new inbox ids from a log subscription on
// the node. Every mailbox shares one connection; adding or removing a
// mailbox resubscribes.
type SubscriptionStrategy struct {
	cfg           Config
	log           *logging.Logger
	mailboxes     map[common.Address]map[uint64]struct{}
	handler       EventHandler
	onReconnect   func(ctx context.Context)
	onError       func(error)
	cancel        context.CancelFunc
	restart       chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	attempts      int
	started       bool
	everConnected bool
	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}
	lastError     error
}

// NewSubscriptionStrategy creates a new subscription strategy.
func NewSubscriptionStrategy(cfg Config) *SubscriptionStrategy {
	cfg = cfg.withDefaults()
	lg := cfg.Logger
	if lg == nil {
		lg = log.Discard("delivery")
	}
	return &SubscriptionStrategy{
		cfg:       cfg,
		log:       lg,
		mailboxes: make(map[common.Address]map[uint64]struct{}),
		restart:   make(chan struct{}, 1),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the strategy name.
func (s *SubscriptionStrategy) Name() string {
	return "subscription"
}

// Connected returns a channel that's closed when the first subscription is
// established.
func (s *SubscriptionStrategy) Connected() <-chan struct{} {
	return s.connected
}

// Done returns a channel that's closed when the strategy gives up
// subscribing or is stopped.
func (s *SubscriptionStrategy) Done() <-chan struct{} {
	return s.done
}

// LastError returns the last subscription error, if any.
func (s *SubscriptionStrategy) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// OnReconnect sets the callback run after each resubscription.
func (s *SubscriptionStrategy) OnReconnect(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onReconnect = fn
	s.mu.Unlock()
}

// OnError sets a callback for handler failures.
func (s *SubscriptionStrategy) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Start begins listening on the given mailboxes.
func (s *SubscriptionStrategy) Start(ctx context.Context, mailboxes []common.Address, handler EventHandler) error {
	if s.cfg.Subscriber == nil {
		return errors.New("delivery: subscription requires a Subscriber")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("delivery: subscription already started")
	}
	for _, addr := range mailboxes {
		if _, ok := s.mailboxes[addr]; !ok {
			s.mailboxes[addr] = make(map[uint64]struct{})
		}
	}
	s.handler = handler
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.connectLoop(ctx)
	return nil
}

// Stop gracefully shuts down the strategy.
func (s *SubscriptionStrategy) Stop() error {
	s.mu.Lock()
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

// AddMailbox adds a mailbox and resubscribes.
func (s *SubscriptionStrategy) AddMailbox(addr common.Address) error {
	s.mu.Lock()
	if _, ok := s.mailboxes[addr]; !ok {
		s.mailboxes[addr] = make(map[uint64]struct{})
	}
	s.mu.Unlock()
	s.requestRestart()
	return nil
}

// RemoveMailbox removes a mailbox and resubscribes.
func (s *SubscriptionStrategy) RemoveMailbox(addr common.Address) error {
	s.mu.Lock()
	delete(s.mailboxes, addr)
	s.mu.Unlock()
	s.requestRestart()
	return nil
}

func (s *SubscriptionStrategy) requestRestart() {
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

func (s *SubscriptionStrategy) connectLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connect(ctx)
		if err == nil {
			// Restart requested or stopped.
			continue
		}

		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()

		// A node that never accepted a subscription will not start to.
		if !s.everConnected {
			s.log.Noticef("Subscription unavailable: %v", err)
			return
		}

		s.attempts++
		if s.attempts >= MaxReconnectAttempts {
			s.log.Errorf("Giving up resubscribing after %d attempts: %v", s.attempts, err)
			return
		}

		wait := s.cfg.ReconnectInterval * time.Duration(1<<(s.attempts-1))
		s.log.Warningf("Subscription lost (%v), retrying in %v", err, wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *SubscriptionStrategy) connect(ctx context.Context) error {
	s.mu.RLock()
	addrs := make([]common.Address, 0, len(s.mailboxes))
	for addr := range s.mailboxes {
		addrs = append(addrs, addr)
	}
	s.mu.RUnlock()

	if len(addrs) == 0 {
		select {
		case <-ctx.Done():
		case <-s.restart:
		}
		return nil
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *Event)
	errc := make(chan error, len(addrs))
	subs := make([]ethereum.Subscription, 0, len(addrs))
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for _, addr := range addrs {
		ids := make(chan uint64)
		sub, err := s.cfg.Subscriber.SubscribeInbox(connCtx, addr, ids)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		go forward(connCtx, addr, ids, sub, events, errc)
	}

	s.attempts = 0
	reconnected := s.everConnected
	s.everConnected = true
	s.connectedOnce.Do(func() {
		close(s.connected)
	})
	s.log.Debugf("Subscribed to %d mailboxes", len(addrs))

	if reconnected {
		s.mu.RLock()
		fn := s.onReconnect
		s.mu.RUnlock()
		if fn != nil {
			fn(ctx)
		}
	}

	for {
		select {
		case ev := <-events:
			s.deliver(ctx, ev)
		case err := <-errc:
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case <-s.restart:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func forward(ctx context.Context, addr common.Address, ids <-chan uint64, sub ethereum.Subscription, events chan<- *Event, errc chan<- error) {
	for {
		select {
		case id := <-ids:
			select {
			case events <- &Event{Mailbox: addr, ID: id}:
			case <-ctx.Done():
				return
			}
		case err := <-sub.Err():
			errc <- err
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *SubscriptionStrategy) deliver(ctx context.Context, ev *Event) {
	s.mu.Lock()
	seen, ok := s.mailboxes[ev.Mailbox]
	if ok {
		if _, dup := seen[ev.ID]; dup {
			ok = false
		} else {
			seen[ev.ID] = struct{}{}
		}
	}
	handler := s.handler
	onError := s.onError
	s.mu.Unlock()

	if !ok || handler == nil {
		return
	}
	if err := handler(ctx, ev); err != nil && onError != nil {
		onError(err)
	}
}
