package delivery

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"
)

// Event reports a record id that newly appeared in a watched mailbox.
type Event struct {
	Mailbox common.Address
	ID      uint64
}

// EventHandler is invoked once per new record id. Returned errors are
// passed to the strategy's error callback; they do not stop delivery.
type EventHandler func(ctx context.Context, event *Event) error

// Lister lists every record id stored for an address, oldest first.
// *ledger.Ledger implements it.
type Lister interface {
	ListByAddress(ctx context.Context, addr common.Address) ([]uint64, error)
}

// Subscriber streams ids of messages sent to an address as they are mined.
// *ledger.Ledger implements it.
type Subscriber interface {
	SubscribeInbox(ctx context.Context, addr common.Address, ids chan<- uint64) (ethereum.Subscription, error)
}

// Strategy defines the interface for mailbox delivery mechanisms.
// Implementations include PollingStrategy, SubscriptionStrategy, and
// AutoStrategy.
//
// The typical lifecycle is:
//  1. Create a strategy with NewXxxStrategy(cfg)
//  2. Call Start(ctx, mailboxes, handler) to begin receiving events
//  3. Optionally call AddMailbox/RemoveMailbox to modify watched mailboxes
//  4. Call Stop() when done to release resources
//
// All implementations are safe for concurrent use.
type Strategy interface {
	// Start begins watching the given mailboxes. Ids already present when
	// a mailbox is first seen are not reported. Start returns immediately;
	// event delivery is asynchronous.
	Start(ctx context.Context, mailboxes []common.Address, handler EventHandler) error

	// Stop shuts down the strategy. After Stop returns no more events are
	// delivered. Stop is idempotent.
	Stop() error

	// AddMailbox adds a mailbox to watch.
	AddMailbox(addr common.Address) error

	// RemoveMailbox stops watching a mailbox.
	RemoveMailbox(addr common.Address) error

	// Name returns the strategy name for logging.
	// Examples: "polling", "subscription", "auto:subscription", "auto:polling"
	Name() string

	// OnReconnect sets a callback invoked after each successful
	// resubscription, so callers can catch up on ids mined while the
	// subscription was down. A no-op for polling.
	OnReconnect(fn func(ctx context.Context))
}

// Config holds configuration shared by all delivery strategies.
type Config struct {
	// Lister is used by polling.
	Lister Lister

	// Subscriber is used by the subscription strategy.
	Subscriber Subscriber

	// Logger receives strategy diagnostics. Nil discards them.
	Logger *logging.Logger

	// PollingInitialInterval is the starting interval between polls.
	// If zero, defaults to DefaultPollingInitialInterval.
	PollingInitialInterval time.Duration

	// PollingMaxBackoff is the maximum interval between polls.
	// If zero, defaults to DefaultPollingMaxBackoff.
	PollingMaxBackoff time.Duration

	// PollingBackoffMultiplier is the factor by which the interval
	// increases after each poll with no changes.
	// If zero, defaults to DefaultPollingBackoffMultiplier.
	PollingBackoffMultiplier float64

	// PollingJitterFactor is the maximum random jitter added to
	// poll intervals (as a fraction of the interval).
	// If zero, defaults to DefaultPollingJitterFactor.
	PollingJitterFactor float64

	// SubscribeTimeout is the maximum time AutoStrategy waits for the
	// subscription to be established before falling back to polling.
	// If zero, defaults to DefaultSubscribeTimeout.
	SubscribeTimeout time.Duration

	// ReconnectInterval is the base delay between resubscription attempts.
	// If zero, defaults to DefaultReconnectInterval.
	ReconnectInterval time.Duration
}

// Default delivery configuration values.
const (
	DefaultPollingInitialInterval   = 2 * time.Second
	DefaultPollingMaxBackoff        = 30 * time.Second
	DefaultPollingBackoffMultiplier = 1.5
	DefaultPollingJitterFactor      = 0.3
	DefaultSubscribeTimeout         = 5 * time.Second
	DefaultReconnectInterval        = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PollingInitialInterval <= 0 {
		c.PollingInitialInterval = DefaultPollingInitialInterval
	}
	if c.PollingMaxBackoff <= 0 {
		c.PollingMaxBackoff = DefaultPollingMaxBackoff
	}
	if c.PollingMaxBackoff < c.PollingInitialInterval {
		c.PollingMaxBackoff = c.PollingInitialInterval
	}
	if c.PollingBackoffMultiplier < 1 {
		c.PollingBackoffMultiplier = DefaultPollingBackoffMultiplier
	}
	if c.PollingJitterFactor <= 0 {
		c.PollingJitterFactor = DefaultPollingJitterFactor
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	return c
}
