package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrSubscriptionUnsupported is returned by SubscribeInbox when the backend
// cannot stream logs, e.g. a plain HTTP JSON-RPC endpoint.
var ErrSubscriptionUnsupported = errors.New("ledger: backend does not support log subscriptions")

// SubscribeInbox streams the ids of messages sent to addr as their
// EmailSent events are mined. Drafts are not reported. The subscription
// ends when ctx is done, Unsubscribe is called or the node drops it.
func (l *Ledger) SubscribeInbox(ctx context.Context, addr common.Address, ids chan<- uint64) (ethereum.Subscription, error) {
	filterer, ok := l.backend.(ethereum.LogFilterer)
	if !ok {
		return nil, ErrSubscriptionUnsupported
	}

	q := ethereum.FilterQuery{
		Addresses: []common.Address{l.contract},
		Topics: [][]common.Hash{
			{parsedABI.Events[eventEmailSent].ID},
			nil,
			nil,
			{common.BytesToHash(addr.Bytes())},
		},
	}
	logs := make(chan types.Log)
	sub, err := filterer.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, ErrSubscriptionUnsupported
		}
		return nil, err
	}
	l.log.Debugf("Subscribed to %s events for %s", eventEmailSent, addr.Hex())

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				id, ok := l.idFromLogs([]*types.Log{&lg}, eventEmailSent)
				if !ok {
					continue
				}
				select {
				case ids <- id:
				case <-quit:
					return nil
				case <-ctx.Done():
					return ctx.Err()
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

// matchesQuery reports whether lg is selected by q.
func matchesQuery(q ethereum.FilterQuery, lg *types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == lg.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Topics) > len(lg.Topics) {
		return false
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == lg.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
