package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func fastConfig() Config {
	return Config{
		PollingInitialInterval: 2 * time.Millisecond,
		PollingMaxBackoff:      10 * time.Millisecond,
		ReconnectInterval:      time.Millisecond,
		SubscribeTimeout:       time.Second,
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeLister struct {
	mu    sync.Mutex
	ids   map[common.Address][]uint64
	err   error
	calls int
}

func newFakeLister() *fakeLister {
	return &fakeLister{ids: make(map[common.Address][]uint64)}
}

func (f *fakeLister) ListByAddress(_ context.Context, addr common.Address) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]uint64(nil), f.ids[addr]...), nil
}

func (f *fakeLister) add(addr common.Address, ids ...uint64) {
	f.mu.Lock()
	f.ids[addr] = append(f.ids[addr], ids...)
	f.mu.Unlock()
}

func (f *fakeLister) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubscriber struct {
	mu    sync.Mutex
	err   error
	feeds map[common.Address]chan uint64
	kills []chan error
	count int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{feeds: make(map[common.Address]chan uint64)}
}

func (f *fakeSubscriber) SubscribeInbox(_ context.Context, addr common.Address, ids chan<- uint64) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.count++
	feed := make(chan uint64, 8)
	kill := make(chan error, 1)
	f.feeds[addr] = feed
	f.kills = append(f.kills, kill)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case id := <-feed:
				select {
				case ids <- id:
				case <-quit:
					return nil
				}
			case err := <-kill:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (f *fakeSubscriber) push(addr common.Address, id uint64) {
	f.mu.Lock()
	feed := f.feeds[addr]
	f.mu.Unlock()
	feed <- id
}

func (f *fakeSubscriber) dropAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, kill := range f.kills {
		select {
		case kill <- err:
		default:
		}
	}
	f.kills = nil
}

func (f *fakeSubscriber) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev *Event) error {
	r.mu.Lock()
	r.events = append(r.events, *ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.ID
	}
	return out
}
