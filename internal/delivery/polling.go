package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/log"
)

// PollingStrategy watches mailboxes by listing their ids on the ledger.
// Each mailbox backs off independently while its listing is unchanged.
type PollingStrategy struct {
	cfg       Config
	log       *logging.Logger
	mailboxes map[common.Address]*polledMailbox
	handler   EventHandler
	onError   func(error)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	started   bool
}

type polledMailbox struct {
	addr     common.Address
	primed   bool
	count    int
	seen     map[uint64]struct{}
	interval time.Duration
}

// NewPollingStrategy creates a new polling strategy.
func NewPollingStrategy(cfg Config) *PollingStrategy {
	cfg = cfg.withDefaults()
	lg := cfg.Logger
	if lg == nil {
		lg = log.Discard("delivery")
	}
	return &PollingStrategy{
		cfg:       cfg,
		log:       lg,
		mailboxes: make(map[common.Address]*polledMailbox),
	}
}

// Name returns the strategy name.
func (p *PollingStrategy) Name() string {
	return "polling"
}

// OnReconnect is a no-op: polling has no connection to lose.
func (p *PollingStrategy) OnReconnect(fn func(ctx context.Context)) {}

// OnError sets a callback for listing and handler failures.
func (p *PollingStrategy) OnError(fn func(error)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// Start begins polling the given mailboxes.
func (p *PollingStrategy) Start(ctx context.Context, mailboxes []common.Address, handler EventHandler) error {
	if p.cfg.Lister == nil {
		return errors.New("delivery: polling requires a Lister")
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("delivery: polling already started")
	}
	p.handler = handler
	for _, addr := range mailboxes {
		p.addLocked(addr)
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	// The first listing is taken before Start returns, so ids mined after
	// Start are never mistaken for existing ones.
	wait := p.pollAll(ctx)

	p.wg.Add(1)
	go p.pollLoop(ctx, wait)
	return nil
}

// Stop gracefully shuts down the strategy.
func (p *PollingStrategy) Stop() error {
	p.mu.Lock()
	p.started = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// AddMailbox adds a mailbox to poll. Adding a watched mailbox is a no-op.
func (p *PollingStrategy) AddMailbox(addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(addr)
	return nil
}

func (p *PollingStrategy) addLocked(addr common.Address) {
	if _, ok := p.mailboxes[addr]; ok {
		return
	}
	p.mailboxes[addr] = &polledMailbox{
		addr:     addr,
		seen:     make(map[uint64]struct{}),
		interval: p.cfg.PollingInitialInterval,
	}
}

// RemoveMailbox removes a mailbox from polling.
func (p *PollingStrategy) RemoveMailbox(addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mailboxes, addr)
	return nil
}

func (p *PollingStrategy) pollLoop(ctx context.Context, wait time.Duration) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		wait = p.pollAll(ctx)
	}
}

// pollAll polls every mailbox once and returns the shortest wait until the
// next poll is due.
func (p *PollingStrategy) pollAll(ctx context.Context) time.Duration {
	p.mu.RLock()
	list := make([]*polledMailbox, 0, len(p.mailboxes))
	for _, mb := range p.mailboxes {
		list = append(list, mb)
	}
	p.mu.RUnlock()

	if len(list) == 0 {
		return p.cfg.PollingInitialInterval
	}

	var minWait time.Duration
	for _, mb := range list {
		p.pollMailbox(ctx, mb)
		if wait := p.getWaitDuration(mb); minWait == 0 || wait < minWait {
			minWait = wait
		}
	}
	return minWait
}

func (p *PollingStrategy) pollMailbox(ctx context.Context, mb *polledMailbox) {
	ids, err := p.cfg.Lister.ListByAddress(ctx, mb.addr)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warningf("Listing %s failed: %v", mb.addr.Hex(), err)
			p.reportError(err)
		}
		return
	}

	// Listings only grow, so an unchanged length means nothing new.
	if mb.primed && len(ids) == mb.count {
		next := time.Duration(float64(mb.interval) * p.cfg.PollingBackoffMultiplier)
		if next > p.cfg.PollingMaxBackoff {
			next = p.cfg.PollingMaxBackoff
		}
		mb.interval = next
		return
	}

	mb.count = len(ids)
	mb.interval = p.cfg.PollingInitialInterval

	var fresh []uint64
	for _, id := range ids {
		if _, ok := mb.seen[id]; ok {
			continue
		}
		mb.seen[id] = struct{}{}
		if mb.primed {
			fresh = append(fresh, id)
		}
	}
	if !mb.primed {
		p.log.Debugf("Watching %s from %d existing ids", mb.addr.Hex(), len(ids))
		mb.primed = true
	}

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return
	}
	for _, id := range fresh {
		if ctx.Err() != nil {
			return
		}
		if err := handler(ctx, &Event{Mailbox: mb.addr, ID: id}); err != nil {
			p.reportError(err)
		}
	}
}

func (p *PollingStrategy) reportError(err error) {
	p.mu.RLock()
	fn := p.onError
	p.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (p *PollingStrategy) getWaitDuration(mb *polledMailbox) time.Duration {
	// Add jitter to prevent thundering herd
	jitter := time.Duration(rand.Float64() * p.cfg.PollingJitterFactor * float64(mb.interval))
	return mb.interval + jitter
}
