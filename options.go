package bmail

import (
	"regexp"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/metrics"
)

// DeliveryStrategy specifies how the client learns about new messages.
type DeliveryStrategy string

const (
	// StrategyAuto subscribes to ledger events when the node supports it
	// and falls back to polling.
	StrategyAuto DeliveryStrategy = "auto"
	// StrategySubscription streams EmailSent events over a websocket or IPC node.
	StrategySubscription DeliveryStrategy = "subscription"
	// StrategyPolling lists the mailbox periodically with exponential backoff.
	StrategyPolling DeliveryStrategy = "polling"
)

const (
	defaultFetchConcurrency = 8
	defaultWaitTimeout      = 60 * time.Second
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	keys      KeyStore
	content   ContentStore
	ledger    Ledger
	directory Directory

	logger           *logging.Logger
	metrics          *metrics.Metrics
	fetchConcurrency int
	now              func() time.Time

	deliveryStrategy DeliveryStrategy
	onSyncError      func(error)

	// Polling configuration
	pollingInitialInterval   time.Duration
	pollingMaxBackoff        time.Duration
	pollingBackoffMultiplier float64
	pollingJitterFactor      float64
	subscribeTimeout         time.Duration
}

// waitConfig holds configuration for waiting on messages.
type waitConfig struct {
	subject      string
	subjectRegex *regexp.Regexp
	from         string
	fromRegex    *regexp.Regexp
	predicate    func(*Message) bool
	timeout      time.Duration
}

// Option configures the client.
type Option func(*clientConfig)

// WaitOption configures message waiting.
type WaitOption func(*waitConfig)

// WithKeyStore sets the local key store.
func WithKeyStore(ks KeyStore) Option {
	return func(c *clientConfig) {
		c.keys = ks
	}
}

// WithContentStore sets the content store.
func WithContentStore(cs ContentStore) Option {
	return func(c *clientConfig) {
		c.content = cs
	}
}

// WithLedger sets the ledger client.
func WithLedger(l Ledger) Option {
	return func(c *clientConfig) {
		c.ledger = l
	}
}

// WithDirectory sets the identity directory.
func WithDirectory(d Directory) Option {
	return func(c *clientConfig) {
		c.directory = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithFetchConcurrency bounds the number of messages fetched and decrypted
// at once while listing.
// Default: 8
func WithFetchConcurrency(n int) Option {
	return func(c *clientConfig) {
		c.fetchConcurrency = n
	}
}

// WithClock sets the time source used to stamp outgoing payloads.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// WithDeliveryStrategy sets the delivery strategy used by Watch.
func WithDeliveryStrategy(strategy DeliveryStrategy) Option {
	return func(c *clientConfig) {
		c.deliveryStrategy = strategy
	}
}

// WithOnSyncError sets a callback for failures while delivering watched
// messages in the background.
func WithOnSyncError(fn func(error)) Option {
	return func(c *clientConfig) {
		c.onSyncError = fn
	}
}

// WithPollingInitialInterval sets the initial polling interval.
// This is the interval used when messages are actively being received.
// Default: 2 seconds
func WithPollingInitialInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingInitialInterval = interval
	}
}

// WithPollingMaxBackoff sets the maximum polling backoff interval.
// Default: 30 seconds
func WithPollingMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingMaxBackoff = maxBackoff
	}
}

// WithPollingBackoffMultiplier sets the backoff multiplier for polling.
// After each poll with no changes, the interval is multiplied by this factor.
// Default: 1.5
func WithPollingBackoffMultiplier(multiplier float64) Option {
	return func(c *clientConfig) {
		c.pollingBackoffMultiplier = multiplier
	}
}

// WithPollingJitterFactor sets the jitter factor for polling intervals.
// Default: 0.3 (30%)
func WithPollingJitterFactor(factor float64) Option {
	return func(c *clientConfig) {
		c.pollingJitterFactor = factor
	}
}

// WithSubscribeTimeout sets how long StrategyAuto waits for the event
// subscription before falling back to polling.
// Default: 5 seconds
func WithSubscribeTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.subscribeTimeout = timeout
	}
}

// WithSubject filters messages by exact subject match.
func WithSubject(subject string) WaitOption {
	return func(c *waitConfig) {
		c.subject = subject
	}
}

// WithSubjectRegex filters messages by subject regex.
func WithSubjectRegex(pattern *regexp.Regexp) WaitOption {
	return func(c *waitConfig) {
		c.subjectRegex = pattern
	}
}

// WithFrom filters messages by the sender identity in the payload.
func WithFrom(from string) WaitOption {
	return func(c *waitConfig) {
		c.from = from
	}
}

// WithFromRegex filters messages by sender identity regex.
func WithFromRegex(pattern *regexp.Regexp) WaitOption {
	return func(c *waitConfig) {
		c.fromRegex = pattern
	}
}

// WithPredicate filters messages by custom predicate.
func WithPredicate(fn func(*Message) bool) WaitOption {
	return func(c *waitConfig) {
		c.predicate = fn
	}
}

// WithWaitTimeout sets the timeout for waiting.
func WithWaitTimeout(timeout time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = timeout
	}
}

// Matches checks if a message matches the wait criteria. Messages that
// could not be decrypted only match when no subject or sender filter is set.
func (w *waitConfig) Matches(m *Message) bool {
	var subject, from string
	if m.Payload != nil {
		subject, from = m.Payload.Subject, m.Payload.Sender
	} else if w.subject != "" || w.subjectRegex != nil || w.from != "" || w.fromRegex != nil {
		return false
	}

	if w.subject != "" && subject != w.subject {
		return false
	}
	if w.subjectRegex != nil && !w.subjectRegex.MatchString(subject) {
		return false
	}
	if w.from != "" && from != w.from {
		return false
	}
	if w.fromRegex != nil && !w.fromRegex.MatchString(from) {
		return false
	}
	if w.predicate != nil && !w.predicate(m) {
		return false
	}
	return true
}
