// Package ledger talks to the EmailStorage contract, which records who sent
// what to whom and where the encrypted body lives.
//
// Writes are signed locally with a secp256k1 key, sent as EIP-1559
// transactions and awaited until mined. Writes are never retried; reads are
// retried with the configured policy and every node call is bounded by the
// call timeout.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/apierrors"
	"github.com/praveen5665/bmail/internal/log"
	"github.com/praveen5665/bmail/internal/metrics"
)

const (
	// DefaultCallTimeout bounds a single node request.
	DefaultCallTimeout = 15 * time.Second
	// DefaultReceiptTimeout bounds the wait for a transaction to be mined.
	DefaultReceiptTimeout = 2 * time.Minute
	// DefaultPollInterval is the delay between receipt polls.
	DefaultPollInterval = time.Second

	// gasMarginPercent is added on top of the node's gas estimate.
	gasMarginPercent = 20
)

var (
	// ErrReadOnly is returned by writes on a ledger without a signing key.
	ErrReadOnly = errors.New("ledger: no signing key configured")

	// ErrNoContract is returned when no code is deployed at the contract address.
	ErrNoContract = errors.New("ledger: no contract deployed at address")

	// ErrReceiptTimeout is returned when a transaction is not mined in time.
	ErrReceiptTimeout = errors.New("ledger: timed out waiting for receipt")

	ErrNotAuthorized = apierrors.ErrNotAuthorized
	ErrNotFound      = apierrors.ErrNotFound
	ErrNotDraft      = apierrors.ErrNotDraft
)

// Backend is the subset of *ethclient.Client the ledger needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Record is one message as stored on the ledger.
type Record struct {
	ID        uint64
	Sender    common.Address
	Recipient common.Address
	ContentID string
	CreatedAt time.Time
	IsRead    bool
	IsStarred bool
	IsDraft   bool
}

// Receipt describes a mined write that created a record.
type Receipt struct {
	ID     uint64
	TxHash common.Hash
	// IDConfirmed is false when the id was not found in the transaction logs
	// and was inferred from the recipient's listing instead.
	IDConfirmed bool
}

// Ledger is a client for one deployed EmailStorage contract.
type Ledger struct {
	backend  Backend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int

	retry          *api.RetryConfig
	callTimeout    time.Duration
	receiptTimeout time.Duration
	pollInterval   time.Duration

	log     *logging.Logger
	metrics *metrics.Metrics

	// txMu serializes writes so nonces are not reused.
	txMu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSigningKey sets the key writes are signed with.
func WithSigningKey(key *ecdsa.PrivateKey) Option {
	return func(l *Ledger) {
		l.key = key
	}
}

// WithChainID fixes the chain id instead of asking the node.
func WithChainID(id *big.Int) Option {
	return func(l *Ledger) {
		l.chainID = id
	}
}

// WithRetry sets the retry policy for reads.
func WithRetry(rc *api.RetryConfig) Option {
	return func(l *Ledger) {
		l.retry = rc
	}
}

// WithCallTimeout bounds each node request.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.callTimeout = d
	}
}

// WithReceiptTimeout bounds the wait for a transaction to be mined.
func WithReceiptTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.receiptTimeout = d
	}
}

// WithPollInterval sets the delay between receipt polls.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.pollInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(lg *logging.Logger) Option {
	return func(l *Ledger) {
		l.log = lg
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// New returns a ledger for the contract at address, reached through backend.
func New(backend Backend, contract common.Address, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger: backend is required")
	}
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("ledger: contract address is required")
	}

	l := &Ledger{
		backend:        backend,
		contract:       contract,
		retry:          api.DefaultRetryConfig(),
		callTimeout:    DefaultCallTimeout,
		receiptTimeout: DefaultReceiptTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = log.Discard("ledger")
	}
	if l.key != nil {
		l.from = ethcrypto.PubkeyToAddress(l.key.PublicKey)
	}
	return l, nil
}

// Dial connects to the JSON-RPC endpoint at rpcURL.
func Dial(ctx context.Context, rpcURL string, contract common.Address, opts ...Option) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	l, err := New(client, contract, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// ParseSigningKey parses a hex encoded secp256k1 private key, with or
// without a 0x prefix.
func ParseSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: signing key: %w", err)
	}
	return key, nil
}

// Close releases the backend connection if the backend holds one.
func (l *Ledger) Close() {
	if c, ok := l.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// Address returns the account writes are sent from. It is the zero address
// for a read-only ledger.
func (l *Ledger) Address() common.Address {
	return l.from
}

// Contract returns the contract address.
func (l *Ledger) Contract() common.Address {
	return l.contract
}

// CheckDeployment verifies that code exists at the contract address.
func (l *Ledger) CheckDeployment(ctx context.Context) error {
	return l.read(ctx, func(ctx context.Context) error {
		code, err := l.backend.CodeAt(ctx, l.contract, nil)
		if err != nil {
			return err
		}
		if len(code) == 0 {
			return fmt.Errorf("%w: %s", ErrNoContract, l.contract.Hex())
		}
		return nil
	})
}

// Append records a sent message for recipient and returns its id.
func (l *Ledger) Append(ctx context.Context, recipient common.Address, contentID string) (*Receipt, error) {
	return l.create(ctx, methodSendEmail, eventEmailSent, recipient, contentID)
}

// SaveDraft records a draft addressed to recipient and returns its id.
func (l *Ledger) SaveDraft(ctx context.Context, recipient common.Address, contentID string) (*Receipt, error) {
	return l.create(ctx, methodSaveDraft, eventDraftSaved, recipient, contentID)
}

// UpdateDraft points a draft at new content.
func (l *Ledger) UpdateDraft(ctx context.Context, id uint64, contentID string) error {
	_, err := l.transact(ctx, methodUpdateDraft, new(big.Int).SetUint64(id), contentID)
	return err
}

// UpdateStatus sets the flags of a record. Only its sender or recipient may
// do so; anyone else gets ErrNotAuthorized.
func (l *Ledger) UpdateStatus(ctx context.Context, id uint64, isRead, isStarred, isDraft bool) error {
	_, err := l.transact(ctx, methodUpdateStatus, new(big.Int).SetUint64(id), isRead, isStarred, isDraft)
	return err
}

// Get returns the record with the given id.
func (l *Ledger) Get(ctx context.Context, id uint64) (*Record, error) {
	out, err := l.call(ctx, methodGetEmail, new(big.Int).SetUint64(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: record %d", ErrNotFound, id)
		}
		return nil, err
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("ledger: getEmail returned %d values", len(out))
	}

	rec := &Record{ID: id}
	var ok [7]bool
	var ts *big.Int
	rec.Sender, ok[0] = out[0].(common.Address)
	rec.Recipient, ok[1] = out[1].(common.Address)
	rec.ContentID, ok[2] = out[2].(string)
	ts, ok[3] = out[3].(*big.Int)
	rec.IsRead, ok[4] = out[4].(bool)
	rec.IsStarred, ok[5] = out[5].(bool)
	rec.IsDraft, ok[6] = out[6].(bool)
	for i, good := range ok {
		if !good {
			return nil, fmt.Errorf("ledger: getEmail value %d has type %T", i, out[i])
		}
	}

	// The contract returns a zeroed struct for ids it never assigned.
	if rec.Sender == (common.Address{}) {
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	rec.CreatedAt = time.Unix(ts.Int64(), 0).UTC()
	return rec, nil
}

// ListByAddress returns the ids of every record addr sent or received.
func (l *Ledger) ListByAddress(ctx context.Context, addr common.Address) ([]uint64, error) {
	out, err := l.call(ctx, methodUserEmails, addr)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("ledger: getUserEmails returned %d values", len(out))
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: getUserEmails value has type %T", out[0])
	}

	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if !v.IsUint64() {
			return nil, fmt.Errorf("ledger: record id %s overflows uint64", v)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

func (l *Ledger) create(ctx context.Context, method, event string, recipient common.Address, contentID string) (*Receipt, error) {
	receipt, err := l.transact(ctx, method, recipient, contentID)
	if err != nil {
		return nil, err
	}

	res := &Receipt{TxHash: receipt.TxHash}
	if id, ok := l.idFromLogs(receipt.Logs, event); ok {
		res.ID = id
		res.IDConfirmed = true
		return res, nil
	}

	// Best effort: the newest id in the recipient's listing is probably ours.
	l.log.Warningf("No %s event in %s, inferring id from listing", event, receipt.TxHash.Hex())
	ids, err := l.ListByAddress(ctx, recipient)
	if err != nil {
		l.log.Warningf("Listing for id inference failed: %v", err)
		return res, nil
	}
	for _, id := range ids {
		if id > res.ID {
			res.ID = id
		}
	}
	return res, nil
}

func (l *Ledger) idFromLogs(logs []*types.Log, event string) (uint64, bool) {
	ev, ok := parsedABI.Events[event]
	if !ok {
		return 0, false
	}
	for _, lg := range logs {
		if lg == nil || lg.Address != l.contract || len(lg.Topics) < 2 || lg.Topics[0] != ev.ID {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if id.IsUint64() {
			return id.Uint64(), true
		}
	}
	return 0, false
}

// call runs a view method, retrying transient failures.
func (l *Ledger) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	var out []any
	err = l.read(ctx, func(ctx context.Context) error {
		msg := ethereum.CallMsg{From: l.from, To: &l.contract, Data: input}
		data, err := l.backend.CallContract(ctx, msg, nil)
		if err != nil {
			return asRevert(method, err)
		}
		out, err = parsedABI.Unpack(method, data)
		if err != nil {
			return fmt.Errorf("ledger: unpack %s: %w", method, err)
		}
		return nil
	})
	return out, err
}

func (l *Ledger) read(ctx context.Context, op func(ctx context.Context) error) error {
	return l.retry.Retry(ctx, transient, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
		return op(ctx)
	})
}

// transact signs and sends one call to method, then waits for it to be mined.
func (l *Ledger) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if l.key == nil {
		return nil, ErrReadOnly
	}
	input, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	l.txMu.Lock()
	tx, err := l.signedTx(ctx, method, input)
	if err == nil {
		err = l.withTimeout(ctx, func(ctx context.Context) error {
			return l.backend.SendTransaction(ctx, tx)
		})
		if err != nil {
			err = asRevert(method, err)
		}
	}
	l.txMu.Unlock()
	if err != nil {
		return nil, err
	}

	l.log.Debugf("Sent %s in %s", method, tx.Hash().Hex())
	receipt, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, l.failureReason(ctx, method, input, receipt)
	}
	return receipt, nil
}

func (l *Ledger) signedTx(ctx context.Context, method string, input []byte) (*types.Transaction, error) {
	var (
		chainID *big.Int
		nonce   uint64
		tip     *big.Int
		head    *types.Header
		gas     uint64
	)
	err := l.withTimeout(ctx, func(ctx context.Context) (err error) {
		if chainID = l.chainID; chainID == nil {
			if chainID, err = l.backend.ChainID(ctx); err != nil {
				return fmt.Errorf("ledger: chain id: %w", err)
			}
			l.chainID = chainID
		}
		if nonce, err = l.backend.PendingNonceAt(ctx, l.from); err != nil {
			return fmt.Errorf("ledger: nonce: %w", err)
		}
		if tip, err = l.backend.SuggestGasTipCap(ctx); err != nil {
			return fmt.Errorf("ledger: gas tip: %w", err)
		}
		if head, err = l.backend.HeaderByNumber(ctx, nil); err != nil {
			return fmt.Errorf("ledger: head: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	// Estimation executes the call, so contract rejections surface here
	// before anything is broadcast.
	err = l.withTimeout(ctx, func(ctx context.Context) (err error) {
		gas, err = l.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      l.from,
			To:        &l.contract,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Data:      input,
		})
		return err
	})
	if err != nil {
		return nil, asRevert(method, err)
	}
	gas += gas * gasMarginPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &l.contract,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	return signed, nil
}

// waitMined polls for the receipt of hash until it is mined or the receipt
// timeout passes.
func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	defer func() { l.metrics.ReceiptWait(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, l.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := l.withTimeout(ctx, func(ctx context.Context) (err error) {
			receipt, err = l.backend.TransactionReceipt(ctx, hash)
			return err
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			l.log.Debugf("Receipt poll for %s failed: %v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// failureReason replays a failed transaction as a call at its block to
// recover the revert reason.
func (l *Ledger) failureReason(ctx context.Context, method string, input []byte, receipt *types.Receipt) error {
	msg := ethereum.CallMsg{From: l.from, To: &l.contract, Data: input}
	err := l.withTimeout(ctx, func(ctx context.Context) error {
		_, err := l.backend.CallContract(ctx, msg, receipt.BlockNumber)
		return err
	})
	if err = asRevert(method, err); isRevert(err) {
		return err
	}
	return &apierrors.RevertError{
		Method: method,
		Err:    fmt.Errorf("transaction %s failed", receipt.TxHash.Hex()),
	}
}

// transient reports whether a failed read is worth repeating.
func transient(err error) bool {
	return !isRevert(err) && !errors.Is(err, ErrNoContract)
}

func (l *Ledger) withTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return op(ctx)
}
