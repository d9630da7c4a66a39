package bmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/contentstore"
	"github.com/praveen5665/bmail/internal/keystore"
	"github.com/praveen5665/bmail/internal/ledger"
)

// directoryServer is an in-process account service answering public key
// and address lookups.
type directoryServer struct {
	*httptest.Server

	mu    sync.Mutex
	keys  map[string]string
	addrs map[string]string
	hits  int
	down  int
}

func newDirectoryServer(t *testing.T) *directoryServer {
	t.Helper()
	d := &directoryServer{
		keys:  make(map[string]string),
		addrs: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathPublicKey, func(w http.ResponseWriter, r *http.Request) {
		d.answer(w, d.keys, r.URL.Query().Get("email"), "publicKey")
	})
	mux.HandleFunc(api.PathAddress, func(w http.ResponseWriter, r *http.Request) {
		d.answer(w, d.addrs, r.URL.Query().Get("email"), "ethAddress")
	})
	d.Server = httptest.NewServer(mux)
	t.Cleanup(d.Close)
	return d
}

func (d *directoryServer) answer(w http.ResponseWriter, table map[string]string, identity, field string) {
	d.mu.Lock()
	d.hits++
	v, ok := table[identity]
	down := d.down
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if down != 0 {
		w.WriteHeader(down)
		json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(down)})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "User not found"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{field: v})
}

// fail makes every lookup answer with status; zero restores normal answers.
func (d *directoryServer) fail(status int) {
	d.mu.Lock()
	d.down = status
	d.mu.Unlock()
}

func (d *directoryServer) publish(identity, publicKeyPEM, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[identity] = publicKeyPEM
	d.addrs[identity] = address
}

// testStore is a MemoryStore that can be told to fail.
type testStore struct {
	*contentstore.MemoryStore

	mu        sync.Mutex
	uploadErr error
	failFetch map[string]bool
}

func newTestStore() *testStore {
	return &testStore{
		MemoryStore: contentstore.NewMemory(),
		failFetch:   make(map[string]bool),
	}
}

func (s *testStore) Upload(ctx context.Context, v any) (string, error) {
	s.mu.Lock()
	err := s.uploadErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.MemoryStore.Upload(ctx, v)
}

func (s *testStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	s.mu.Lock()
	fail := s.failFetch[contentID]
	s.mu.Unlock()
	if fail {
		return nil, &ContentUnavailableError{ContentID: contentID, Attempts: 3, Err: ErrNotFound}
	}
	return s.MemoryStore.Fetch(ctx, contentID)
}

func (s *testStore) setUploadErr(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

func (s *testStore) breakFetch(contentID string) {
	s.mu.Lock()
	s.failFetch[contentID] = true
	s.mu.Unlock()
}

// world is a simulated chain, content store and directory shared by the
// clients of one test.
type world struct {
	sim     *ledger.Simulated
	content *testStore
	dir     *directoryServer
	api     *api.Client
}

func newWorld(t *testing.T) *world {
	t.Helper()
	sim := ledger.NewSimulated()

	// Each mined record is one second newer than the last.
	var (
		clockMu sync.Mutex
		tick    int64
	)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	sim.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	dir := newDirectoryServer(t)
	directory, err := api.New(dir.URL, api.WithRetry(api.NoRetry()))
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	return &world{
		sim:     sim,
		content: newTestStore(),
		dir:     dir,
		api:     directory,
	}
}

// signingLedger returns a ledger on the simulated chain with a fresh account.
func (w *world) signingLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	l, err := ledger.New(w.sim, ledger.SimulatedContract,
		ledger.WithSigningKey(key),
		ledger.WithRetry(api.NoRetry()),
		ledger.WithPollInterval(time.Millisecond),
		ledger.WithReceiptTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}
	return l
}

// newClient creates a client on l without registering a key.
func (w *world) newClient(t *testing.T, identity string, l Ledger, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithKeyStore(keystore.New(keystore.WithPrimary(keystore.NewMemory()))),
		WithContentStore(w.content),
		WithLedger(l),
		WithDirectory(w.api),
		WithDeliveryStrategy(StrategyPolling),
		WithPollingInitialInterval(5 * time.Millisecond),
		WithPollingMaxBackoff(20 * time.Millisecond),
	}
	c, err := New(identity, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// user creates a registered client whose key and address are published.
func (w *world) user(t *testing.T, identity string, opts ...Option) *Client {
	t.Helper()
	l := w.signingLedger(t)
	c := w.newClient(t, identity, l, opts...)
	w.register(t, c, l.Address().Hex())
	return c
}

func (w *world) register(t *testing.T, c *Client, address string) *KeyPair {
	t.Helper()
	kp, err := c.Register(context.Background())
	if err != nil {
		t.Fatalf("Register(%s) error = %v", c.Identity(), err)
	}
	w.dir.publish(c.Identity(), kp.PublicKeyPEM, address)
	return kp
}

func mustSend(t *testing.T, from *Client, to, subject, body string) *SendResult {
	t.Helper()
	res := from.Send(context.Background(), to, subject, body)
	if !res.Success {
		t.Fatalf("Send(%s -> %s) failed: %s", from.Identity(), to, res.Error)
	}
	return res
}

func subjects(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Payload == nil {
			out[i] = fmt.Sprintf("<%d unreadable>", m.ID)
			continue
		}
		out[i] = m.Payload.Subject
	}
	return out
}
