package bmail

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/config"
	"github.com/praveen5665/bmail/internal/contentstore"
	"github.com/praveen5665/bmail/internal/crypto"
	"github.com/praveen5665/bmail/internal/delivery"
	"github.com/praveen5665/bmail/internal/keystore"
	"github.com/praveen5665/bmail/internal/ledger"
	"github.com/praveen5665/bmail/internal/log"
	"github.com/praveen5665/bmail/internal/metrics"
)

// eventTimeout bounds fetching and decrypting one message after the
// delivery strategy reports its id.
const eventTimeout = 30 * time.Second

// KeyStore holds private keys and cached public keys. *keystore.Store
// implements it.
type KeyStore interface {
	StorePrivateKey(ctx context.Context, identity, privateKeyPEM string) error
	PrivateKey(ctx context.Context, identity string) (string, error)
	Generate(ctx context.Context, identity string, force bool) (*crypto.KeyPair, error)
	PublicKey(ctx context.Context, identity string, resolver keystore.PublicKeyResolver) (string, error)
	Backup(ctx context.Context, identity string) (mnemonic string, sealed []byte, err error)
	OpenBackup(mnemonic string, sealed []byte) (*crypto.KeyPair, error)
}

// ContentStore stores encrypted envelopes by content id. *contentstore.Store
// and *contentstore.MemoryStore implement it.
type ContentStore interface {
	Upload(ctx context.Context, v any) (string, error)
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}

// Ledger is the message index. *ledger.Ledger implements it.
type Ledger interface {
	Address() common.Address
	Append(ctx context.Context, recipient common.Address, contentID string) (*ledger.Receipt, error)
	SaveDraft(ctx context.Context, recipient common.Address, contentID string) (*ledger.Receipt, error)
	UpdateDraft(ctx context.Context, id uint64, contentID string) error
	UpdateStatus(ctx context.Context, id uint64, isRead, isStarred, isDraft bool) error
	Get(ctx context.Context, id uint64) (*ledger.Record, error)
	ListByAddress(ctx context.Context, addr common.Address) ([]uint64, error)
}

// Directory resolves identities to public keys and ledger addresses.
// *api.Client implements it.
type Directory interface {
	LookupPublicKey(ctx context.Context, identity string) (string, error)
	LookupAddress(ctx context.Context, identity string) (string, error)
}

// Client is a Bmail session for one identity.
type Client struct {
	identity  string
	keys      KeyStore
	content   ContentStore
	ledger    Ledger
	directory Directory

	log              *logging.Logger
	metrics          *metrics.Metrics
	fetchConcurrency int
	now              func() time.Time

	// keyMu guards privateKey, which is loaded once and then read-only.
	keyMu      sync.Mutex
	privateKey string

	mu      sync.RWMutex
	closed  bool
	closers []func() error

	// Delivery of new inbox messages, started by the first watcher.
	// watchMu serializes starting it.
	watchMu          sync.Mutex
	subs             *subscriptionManager
	strategy         delivery.Strategy
	strategyCtx      context.Context
	strategyCancel   context.CancelFunc
	watching         bool
	mailbox          common.Address
	seen             map[uint64]struct{}
	onSyncError      func(error)
	subscribeTimeout time.Duration
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		fetchConcurrency: defaultFetchConcurrency,
		deliveryStrategy: StrategyAuto,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// New creates a client for identity from explicitly supplied components.
// WithKeyStore, WithContentStore, WithLedger and WithDirectory are required.
func New(identity string, opts ...Option) (*Client, error) {
	return newClient(identity, newClientConfig(opts))
}

func newClient(identity string, cfg *clientConfig) (*Client, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	switch {
	case cfg.keys == nil:
		return nil, fmt.Errorf("bmail: key store is required")
	case cfg.content == nil:
		return nil, fmt.Errorf("bmail: content store is required")
	case cfg.ledger == nil:
		return nil, fmt.Errorf("bmail: ledger is required")
	case cfg.directory == nil:
		return nil, fmt.Errorf("bmail: directory is required")
	}
	if cfg.logger == nil {
		cfg.logger = log.Discard("bmail")
	}
	if cfg.fetchConcurrency <= 0 {
		cfg.fetchConcurrency = defaultFetchConcurrency
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.subscribeTimeout <= 0 {
		cfg.subscribeTimeout = delivery.DefaultSubscribeTimeout
	}

	strategyCtx, strategyCancel := context.WithCancel(context.Background())

	c := &Client{
		identity:         identity,
		keys:             cfg.keys,
		content:          cfg.content,
		ledger:           cfg.ledger,
		directory:        cfg.directory,
		log:              cfg.logger,
		metrics:          cfg.metrics,
		fetchConcurrency: cfg.fetchConcurrency,
		now:              cfg.now,
		subs:             newSubscriptionManager(),
		strategy:         createDeliveryStrategy(cfg),
		strategyCtx:      strategyCtx,
		strategyCancel:   strategyCancel,
		seen:             make(map[uint64]struct{}),
		onSyncError:      cfg.onSyncError,
		subscribeTimeout: cfg.subscribeTimeout,
	}
	return c, nil
}

// createDeliveryStrategy creates a delivery strategy based on the config.
func createDeliveryStrategy(cfg *clientConfig) delivery.Strategy {
	deliveryCfg := delivery.Config{
		Lister:                   cfg.ledger,
		Logger:                   cfg.logger,
		PollingInitialInterval:   cfg.pollingInitialInterval,
		PollingMaxBackoff:        cfg.pollingMaxBackoff,
		PollingBackoffMultiplier: cfg.pollingBackoffMultiplier,
		PollingJitterFactor:      cfg.pollingJitterFactor,
		SubscribeTimeout:         cfg.subscribeTimeout,
	}
	if sub, ok := cfg.ledger.(delivery.Subscriber); ok {
		deliveryCfg.Subscriber = sub
	}
	switch cfg.deliveryStrategy {
	case StrategyPolling:
		return delivery.NewPollingStrategy(deliveryCfg)
	case StrategySubscription:
		if deliveryCfg.Subscriber != nil {
			return delivery.NewSubscriptionStrategy(deliveryCfg)
		}
		cfg.logger.Warningf("Ledger cannot subscribe to events, polling instead")
		return delivery.NewPollingStrategy(deliveryCfg)
	default:
		return delivery.NewAutoStrategy(deliveryCfg)
	}
}

// Open builds a client from a loaded configuration. Components supplied in
// opts are used as given; the rest are constructed from cfg and released
// by Close.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	ccfg := newClientConfig(opts)
	if ccfg.fetchConcurrency == defaultFetchConcurrency {
		ccfg.fetchConcurrency = cfg.FetchConcurrency
	}

	var closers []func() error
	fail := func(err error) (*Client, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	getLogger := log.Discard
	if ccfg.logger == nil {
		backend, err := cfg.InitLogBackend()
		if err != nil {
			return nil, err
		}
		closers = append(closers, backend.Close)
		getLogger = backend.GetLogger
		ccfg.logger = backend.GetLogger("bmail")
	}

	if ccfg.keys == nil {
		ks, err := keystore.Open(cfg.KeyStore.DataDir,
			keystore.WithLogger(getLogger("keystore")),
			keystore.WithMetrics(ccfg.metrics),
		)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, ks.Close)
		ccfg.keys = ks
	}

	if ccfg.directory == nil {
		dir, err := api.New(cfg.Directory.URL,
			api.WithTimeout(cfg.HTTPTimeout),
			api.WithRetry(cfg.RetryConfig()),
		)
		if err != nil {
			return fail(fmt.Errorf("bmail: directory: %w", err))
		}
		ccfg.directory = dir
	}

	if ccfg.content == nil {
		var (
			pinner contentstore.Pinner
			err    error
		)
		switch cfg.Content.Pinner {
		case config.PinnerKubo:
			pinner, err = contentstore.NewKubo(cfg.Content.KuboAPI, cfg.HTTPTimeout)
		default:
			pinner, err = contentstore.NewPinata(cfg.Content.PinningURL, cfg.Content.PinataJWT, cfg.HTTPTimeout)
		}
		if err != nil {
			return fail(err)
		}
		cs, err := contentstore.New(pinner, cfg.Content.Gateways,
			contentstore.WithLogger(getLogger("contentstore")),
			contentstore.WithMetrics(ccfg.metrics),
			contentstore.WithTimeout(cfg.HTTPTimeout),
			contentstore.WithGatewayRate(cfg.Content.GatewayRPS),
		)
		if err != nil {
			return fail(err)
		}
		ccfg.content = cs
	}

	if ccfg.ledger == nil {
		lopts := []ledger.Option{
			ledger.WithRetry(cfg.RetryConfig()),
			ledger.WithCallTimeout(cfg.Ledger.CallTimeout),
			ledger.WithReceiptTimeout(cfg.Ledger.ReceiptTimeout),
			ledger.WithPollInterval(cfg.Ledger.ReceiptPollInterval),
			ledger.WithLogger(getLogger("ledger")),
			ledger.WithMetrics(ccfg.metrics),
		}
		if cfg.Ledger.SigningKey != "" {
			key, err := ledger.ParseSigningKey(cfg.Ledger.SigningKey)
			if err != nil {
				return fail(err)
			}
			lopts = append(lopts, ledger.WithSigningKey(key))
		}
		if cfg.Ledger.ChainID > 0 {
			lopts = append(lopts, ledger.WithChainID(big.NewInt(cfg.Ledger.ChainID)))
		}
		l, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, common.HexToAddress(cfg.Ledger.ContractAddress), lopts...)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() error {
			l.Close()
			return nil
		})
		ccfg.ledger = l
	}

	c, err := newClient(cfg.Identity, ccfg)
	if err != nil {
		return fail(err)
	}
	c.closers = closers
	return c, nil
}

// Identity returns the identity the client acts for.
func (c *Client) Identity() string {
	return c.identity
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// loadPrivateKey returns the identity's private key, reading the key store
// on first use only.
func (c *Client) loadPrivateKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.privateKey != "" {
		return c.privateKey, nil
	}
	pem, err := c.keys.PrivateKey(ctx, c.identity)
	if err != nil {
		return "", err
	}
	c.privateKey = pem
	return pem, nil
}

// forgetPrivateKey drops the cached key after it was replaced in the store.
func (c *Client) forgetPrivateKey() {
	c.keyMu.Lock()
	c.privateKey = ""
	c.keyMu.Unlock()
}

// Address returns the caller's ledger address: the signing account when
// the ledger can write, otherwise the address registered in the directory.
func (c *Client) Address(ctx context.Context) (common.Address, error) {
	if addr := c.ledger.Address(); addr != (common.Address{}) {
		return addr, nil
	}
	raw, err := c.directory.LookupAddress(ctx, c.identity)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("bmail: directory address %q for %s is invalid", raw, c.identity)
	}
	return common.HexToAddress(raw), nil
}

// resolveRecipient looks up the recipient's public key and ledger address.
// Only an identity the directory does not know is reported as a
// RecipientError; an unreachable or failing directory is returned as is.
func (c *Client) resolveRecipient(ctx context.Context, identity string) (string, common.Address, error) {
	publicKey, err := c.keys.PublicKey(ctx, identity, c.directory)
	if err != nil {
		return "", common.Address{}, c.recipientError(identity, err)
	}
	raw, err := c.directory.LookupAddress(ctx, identity)
	if err != nil {
		return "", common.Address{}, c.recipientError(identity, err)
	}
	if !common.IsHexAddress(raw) {
		return "", common.Address{}, &RecipientError{
			Identity: identity,
			Err:      fmt.Errorf("%w: address %q is invalid", ErrRecipientUnknown, raw),
		}
	}
	return publicKey, common.HexToAddress(raw), nil
}

func (c *Client) recipientError(identity string, err error) error {
	if errors.Is(err, ErrRecipientUnknown) {
		return &RecipientError{Identity: identity, Err: err}
	}
	if api.IsNetworkError(err) {
		c.log.Warningf("Directory unreachable resolving %s: %v", identity, err)
	}
	return err
}

// Close stops watching and releases the components Open constructed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watching := c.watching
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	// The strategy's handler takes c.mu, so it is stopped without holding it.
	if c.strategyCancel != nil {
		c.strategyCancel()
	}
	var firstErr error
	if watching {
		if err := c.strategy.Stop(); err != nil {
			firstErr = err //coverage:ignore
		}
	}
	c.subs.clear()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
