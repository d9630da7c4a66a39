package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// SimulatedContract is the address the simulated backend serves the
// contract at.
var SimulatedContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

var (
	simBaseFee = big.NewInt(1_000_000_000)
	simTip     = big.NewInt(1_000_000_000)
	simGas     = uint64(90_000)
)

type simRecord struct {
	sender    common.Address
	recipient common.Address
	contentID string
	timestamp int64
	isRead    bool
	isStarred bool
	isDraft   bool
}

// Simulated is an in-memory Backend that executes the EmailStorage contract
// rules. Transactions are mined as soon as they are sent. It backs tests and
// the demo command of cmd/bmail.
type Simulated struct {
	mu       sync.Mutex
	chainID  *big.Int
	now      func() time.Time
	nextID   uint64
	block    uint64
	records  map[uint64]*simRecord
	byUser   map[common.Address][]uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	delays   map[common.Hash]int
	sent     int
	callErr  error
	history  []types.Log
	feed     event.Feed

	// DropLogs mines transactions without event logs.
	DropLogs bool
	// ReceiptDelay is the number of receipt polls answered with NotFound
	// before a receipt is returned.
	ReceiptDelay int
}

// NewSimulated returns an empty simulated chain.
func NewSimulated() *Simulated {
	return &Simulated{
		chainID:  big.NewInt(1337),
		now:      time.Now,
		records:  make(map[uint64]*simRecord),
		byUser:   make(map[common.Address][]uint64),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		delays:   make(map[common.Hash]int),
	}
}

// SetClock replaces the clock used for record timestamps.
func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetCallErr sets the error every read fails with. Nil clears it.
func (s *Simulated) SetCallErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callErr = err
}

// Sent returns the number of transactions accepted.
func (s *Simulated) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// simRevert mimics the error a node returns for a reverted call.
type simRevert struct {
	reason string
}

func (e *simRevert) Error() string  { return revertPrefix + ": " + e.reason }
func (e *simRevert) ErrorCode() int { return 3 }

func (e *simRevert) ErrorData() interface{} {
	stringTy, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringTy}}.Pack(e.reason)
	selector := ethcrypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func revert(reason string) error {
	return &simRevert{reason: reason}
}

// CallContract implements Backend.
func (s *Simulated) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	if msg.To == nil || *msg.To != SimulatedContract {
		return nil, nil
	}
	out, _, err := s.execute(msg.From, msg.Data, false)
	return out, err
}

// CodeAt implements Backend.
func (s *Simulated) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if account == SimulatedContract {
		return []byte{0x60, 0x80, 0x60, 0x40}, nil
	}
	return nil, nil
}

// EstimateGas implements Backend.
func (s *Simulated) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.execute(msg.From, msg.Data, false); err != nil {
		return 0, err
	}
	return simGas, nil
}

// SendTransaction implements Backend. The transaction is mined immediately;
// a reverting transaction is mined with a failed status.
func (s *Simulated) SendTransaction(_ context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	mined, err := s.mine(tx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, lg := range mined {
		s.feed.Send(*lg)
	}
	return nil
}

func (s *Simulated) mine(tx *types.Transaction) ([]*types.Log, error) {
	from, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != s.nonces[from] {
		return nil, fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), s.nonces[from])
	}
	if tx.To() == nil || *tx.To() != SimulatedContract {
		return nil, errors.New("unknown contract")
	}
	s.nonces[from]++
	s.block++
	s.sent++

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(s.block),
		GasUsed:     simGas,
	}
	_, logs, err := s.execute(from, tx.Data(), true)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else if !s.DropLogs {
		for _, lg := range logs {
			lg.TxHash = tx.Hash()
			lg.BlockNumber = s.block
		}
		receipt.Logs = logs
		for _, lg := range logs {
			s.history = append(s.history, *lg)
		}
	}

	s.receipts[tx.Hash()] = receipt
	s.delays[tx.Hash()] = s.ReceiptDelay
	return receipt.Logs, nil
}

// TransactionReceipt implements Backend.
func (s *Simulated) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if s.delays[hash] > 0 {
		s.delays[hash]--
		return nil, ethereum.NotFound
	}
	return r, nil
}

// FilterLogs implements ethereum.LogFilterer. Block ranges are ignored.
func (s *Simulated) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Log
	for i := range s.history {
		if matchesQuery(q, &s.history[i]) {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

// SubscribeFilterLogs implements ethereum.LogFilterer. Only logs mined after
// the call are delivered.
func (s *Simulated) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	mined := make(chan types.Log, 16)
	sub := s.feed.Subscribe(mined)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-mined:
				if !matchesQuery(q, &lg) {
					continue
				}
				select {
				case ch <- lg:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// ChainID implements Backend.
func (s *Simulated) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.chainID), nil
}

// HeaderByNumber implements Backend.
func (s *Simulated) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(s.block),
		BaseFee: new(big.Int).Set(simBaseFee),
		Time:    uint64(s.now().Unix()),
	}, nil
}

// PendingNonceAt implements Backend.
func (s *Simulated) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[account], nil
}

// SuggestGasTipCap implements Backend.
func (s *Simulated) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(simTip), nil
}

// execute runs one contract call from the given account. State changes and
// logs are only produced when apply is set.
func (s *Simulated) execute(from common.Address, data []byte, apply bool) ([]byte, []*types.Log, error) {
	if len(data) < 4 {
		return nil, nil, revert("missing selector")
	}
	method, err := parsedABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("unknown method")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, revert("bad arguments")
	}

	switch method.Name {
	case methodSendEmail, methodSaveDraft:
		recipient := args[0].(common.Address)
		contentID := args[1].(string)
		if recipient == (common.Address{}) {
			return nil, nil, revert("Invalid recipient address")
		}
		id := s.nextID + 1
		out, err := method.Outputs.Pack(new(big.Int).SetUint64(id))
		if err != nil || !apply {
			return out, nil, err
		}

		rec := &simRecord{
			sender:    from,
			recipient: recipient,
			contentID: contentID,
			timestamp: s.now().Unix(),
			isDraft:   method.Name == methodSaveDraft,
		}
		s.nextID = id
		s.records[id] = rec
		s.byUser[from] = append(s.byUser[from], id)
		if recipient != from {
			s.byUser[recipient] = append(s.byUser[recipient], id)
		}

		event := eventEmailSent
		if rec.isDraft {
			event = eventDraftSaved
		}
		lg, err := s.eventLog(event, id, rec)
		if err != nil {
			return nil, nil, err
		}
		return out, []*types.Log{lg}, nil

	case methodUpdateDraft:
		rec, err := s.lookup(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		if rec.sender != from {
			return nil, nil, revert("Not authorized")
		}
		if !rec.isDraft {
			return nil, nil, revert("Email is not a draft")
		}
		if apply {
			rec.contentID = args[1].(string)
		}
		return nil, nil, nil

	case methodUpdateStatus:
		rec, err := s.lookup(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		if rec.sender != from && rec.recipient != from {
			return nil, nil, revert("Not authorized")
		}
		if apply {
			rec.isRead = args[1].(bool)
			rec.isStarred = args[2].(bool)
			rec.isDraft = args[3].(bool)
		}
		return nil, nil, nil

	case methodGetEmail:
		rec, err := s.lookup(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		out, err := method.Outputs.Pack(rec.sender, rec.recipient, rec.contentID,
			big.NewInt(rec.timestamp), rec.isRead, rec.isStarred, rec.isDraft)
		return out, nil, err

	case methodUserEmails:
		ids := s.byUser[args[0].(common.Address)]
		list := make([]*big.Int, len(ids))
		for i, id := range ids {
			list[i] = new(big.Int).SetUint64(id)
		}
		out, err := method.Outputs.Pack(list)
		return out, nil, err
	}
	return nil, nil, revert("unknown method")
}

func (s *Simulated) lookup(id *big.Int) (*simRecord, error) {
	if !id.IsUint64() {
		return nil, revert("Email does not exist")
	}
	rec, ok := s.records[id.Uint64()]
	if !ok {
		return nil, revert("Email does not exist")
	}
	return rec, nil
}

func (s *Simulated) eventLog(name string, id uint64, rec *simRecord) (*types.Log, error) {
	ev := parsedABI.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(rec.contentID, big.NewInt(rec.timestamp))
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: SimulatedContract,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(new(big.Int).SetUint64(id)),
			common.BytesToHash(rec.sender.Bytes()),
			common.BytesToHash(rec.recipient.Bytes()),
		},
		Data: data,
	}, nil
}
