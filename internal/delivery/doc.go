// Package delivery watches ledger mailboxes for new message ids. It
// supports multiple delivery mechanisms that can be selected based on node
// capabilities.
//
// # Delivery Strategies
//
//   - [SubscriptionStrategy]: subscribes to the contract's EmailSent logs.
//     Lowest latency; needs a websocket or IPC node connection.
//
//   - [PollingStrategy]: periodically lists the mailbox on the ledger. Uses
//     adaptive backoff to reduce calls while nothing arrives. Works with any
//     JSON-RPC endpoint.
//
//   - [AutoStrategy]: subscribes when possible and falls back to polling.
//
// # Usage
//
//	cfg := delivery.Config{Lister: l, Subscriber: l}
//	strategy := delivery.NewAutoStrategy(cfg)
//
//	strategy.Start(ctx, []common.Address{me}, func(ctx context.Context, ev *delivery.Event) error {
//	    // Fetch and decrypt ev.ID
//	    return nil
//	})
//	defer strategy.Stop()
//
// Ids already present when a mailbox is first watched are not reported.
//
// # Backoff and Retry
//
//   - Polling increases intervals from 2s to 30s max when no changes detected
//   - Subscriptions reconnect with exponential backoff up to 10 attempts
//   - Jitter prevents thundering herd when many clients poll one node
//
// # Thread Safety
//
// All strategy types are safe for concurrent use. Mailboxes can be added or
// removed while the strategy is running.
package delivery
