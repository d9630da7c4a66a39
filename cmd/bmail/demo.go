package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/praveen5665/bmail"
	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/contentstore"
	"github.com/praveen5665/bmail/internal/keystore"
	"github.com/praveen5665/bmail/internal/ledger"
	"github.com/praveen5665/bmail/internal/log"
)

// memDirectory is an identity directory held in memory.
type memDirectory struct {
	mu        sync.RWMutex
	keys      map[string]string
	addresses map[string]string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		keys:      make(map[string]string),
		addresses: make(map[string]string),
	}
}

func (d *memDirectory) publish(identity, publicKeyPEM string, addr common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[identity] = publicKeyPEM
	d.addresses[identity] = addr.Hex()
}

func (d *memDirectory) LookupPublicKey(_ context.Context, identity string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if pem, ok := d.keys[identity]; ok {
		return pem, nil
	}
	return "", fmt.Errorf("%w: no public key for %s", api.ErrRecipientUnknown, identity)
}

func (d *memDirectory) LookupAddress(_ context.Context, identity string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if addr, ok := d.addresses[identity]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("%w: no address for %s", api.ErrRecipientUnknown, identity)
}

// DemoOutput reports what the demo did.
type DemoOutput struct {
	Sent       SendOutput      `json:"sent"`
	Received   MessageOutput   `json:"received"`
	Inbox      []MessageOutput `json:"inbox"`
	SenderSent []MessageOutput `json:"senderSent"`
}

func newDemoCommand(g *globals) *cobra.Command {
	var (
		from    string
		to      string
		subject string
		body    string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Send and receive a message on an in-memory network",
		Long: `Runs two clients against an in-memory ledger, content store and directory:
the sender registers, sends one message, and the recipient receives it through
its watcher, marks it read and lists the inbox. Nothing leaves the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := g.logLevel
			if level == "" {
				level = "WARNING"
			}
			logs, err := log.NewWithWriter(cmd.ErrOrStderr(), level)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if g.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}

			out, err := runDemo(ctx, logs, from, to, subject, body)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "alice@bmail.demo", "sender identity")
	cmd.Flags().StringVar(&to, "to", "bob@bmail.demo", "recipient identity")
	cmd.Flags().StringVarP(&subject, "subject", "s", "Hello from Bmail", "message subject")
	cmd.Flags().StringVarP(&body, "body", "b", "This message never left the process.", "message body")
	return cmd
}

// demoNetwork is a simulated chain, content store and directory shared by
// the demo clients.
type demoNetwork struct {
	sim       *ledger.Simulated
	content   *contentstore.MemoryStore
	directory *memDirectory
	logs      *log.Backend
}

// join creates a registered client for identity with its own account.
func (n *demoNetwork) join(ctx context.Context, identity string) (*bmail.Client, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(n.sim, ledger.SimulatedContract,
		ledger.WithSigningKey(key),
		ledger.WithPollInterval(10*time.Millisecond),
		ledger.WithLogger(n.logs.GetLogger("ledger")),
	)
	if err != nil {
		return nil, err
	}
	c, err := bmail.New(identity,
		bmail.WithKeyStore(keystore.New(keystore.WithLogger(n.logs.GetLogger("keystore")))),
		bmail.WithContentStore(n.content),
		bmail.WithLedger(l),
		bmail.WithDirectory(n.directory),
		bmail.WithLogger(n.logs.GetLogger("bmail")),
	)
	if err != nil {
		return nil, err
	}
	kp, err := c.Register(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	n.directory.publish(identity, kp.PublicKeyPEM, l.Address())
	return c, nil
}

func runDemo(ctx context.Context, logs *log.Backend, from, to, subject, body string) (*DemoOutput, error) {
	n := &demoNetwork{
		sim:       ledger.NewSimulated(),
		content:   contentstore.NewMemory(),
		directory: newMemDirectory(),
		logs:      logs,
	}

	sender, err := n.join(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("demo: %s: %w", from, err)
	}
	defer sender.Close()
	recipient, err := n.join(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("demo: %s: %w", to, err)
	}
	defer recipient.Close()

	incoming, err := recipient.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("demo: watch: %w", err)
	}

	res := sender.Send(ctx, to, subject, body)
	if !res.Success {
		return nil, fmt.Errorf("demo: send: %w", res.Err)
	}

	var received *bmail.Message
	select {
	case received = <-incoming:
	case <-ctx.Done():
		return nil, fmt.Errorf("demo: waiting for delivery: %w", ctx.Err())
	}
	if err := recipient.MarkRead(ctx, received.ID); err != nil {
		return nil, fmt.Errorf("demo: mark read: %w", err)
	}

	inbox, err := recipient.ListInbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("demo: inbox: %w", err)
	}
	sent, err := sender.ListSent(ctx)
	if err != nil {
		return nil, fmt.Errorf("demo: sent: %w", err)
	}

	return &DemoOutput{
		Sent:       convertSendResult(res),
		Received:   convertMessage(received),
		Inbox:      convertMessages(inbox),
		SenderSent: convertMessages(sent),
	}, nil
}
