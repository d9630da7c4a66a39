package bmail

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestWatch(t *testing.T) {
	strategies := []DeliveryStrategy{StrategyPolling, StrategySubscription, StrategyAuto}
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			w := newWorld(t)
			alice := w.user(t, "alice@bmail.test")
			bob := w.user(t, "bob@bmail.test", WithDeliveryStrategy(strategy))
			mustSend(t, alice, "bob@bmail.test", "old", "already here")

			ch, err := bob.Watch(ctx)
			if err != nil {
				t.Fatalf("Watch() error = %v", err)
			}

			mustSend(t, alice, "bob@bmail.test", "new", "just arrived")
			msg := receive(t, ch)
			if msg.Payload == nil || msg.Payload.Subject != "new" {
				t.Fatalf("Watch() delivered %+v (%v), want subject new", msg.Payload, msg.DecryptionError)
			}

			// Messages bob sends are not inbox arrivals.
			mustSend(t, bob, "alice@bmail.test", "outgoing", "x")
			mustSend(t, alice, "bob@bmail.test", "newer", "y")
			msg = receive(t, ch)
			if msg.Payload == nil || msg.Payload.Subject != "newer" {
				t.Errorf("Watch() delivered %+v, want subject newer", msg.Payload)
			}

			select {
			case extra := <-ch:
				t.Errorf("unexpected extra message %d", extra.ID)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestWatch_Closed(t *testing.T) {
	w := newWorld(t)
	bob := w.user(t, "bob@bmail.test")
	bob.Close()

	if _, err := bob.Watch(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Watch() after Close error = %v, want ErrClientClosed", err)
	}
}

func TestWatch_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")

	ch, err := bob.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if n := bob.subs.count(bob.mailbox); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
	if err := bob.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := bob.subs.count(bob.mailbox); n != 0 {
		t.Errorf("subscriptions after Close = %d, want 0", n)
	}

	mustSend(t, alice, "bob@bmail.test", "late", "x")
	select {
	case msg := <-ch:
		t.Errorf("message %d delivered after Close", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- bob.WatchFunc(ctx, func(m *Message) {
			if m.Payload != nil {
				got <- m.Payload.Subject
			}
		})
	}()

	// WatchFunc starts asynchronously; keep sending until one lands.
	deadline := time.After(5 * time.Second)
	for received := false; !received; {
		mustSend(t, alice, "bob@bmail.test", "ping", "x")
		select {
		case subject := <-got:
			if subject != "ping" {
				t.Errorf("WatchFunc() got subject %q, want ping", subject)
			}
			received = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for WatchFunc")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchFunc() error = %v", err)
	}
}

func TestWaitForMessage_Existing(t *testing.T) {
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	mustSend(t, alice, "bob@bmail.test", "Welcome aboard", "hi")

	msg, err := bob.WaitForMessage(context.Background(),
		WithSubject("Welcome aboard"),
		WithFrom("alice@bmail.test"),
		WithWaitTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("WaitForMessage() error = %v", err)
	}
	if msg.Payload.Body != "hi" {
		t.Errorf("Body = %q, want hi", msg.Payload.Body)
	}
}

func TestWaitForMessage_Arrival(t *testing.T) {
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	mustSend(t, alice, "bob@bmail.test", "unrelated", "x")

	go func() {
		time.Sleep(50 * time.Millisecond)
		alice.Send(context.Background(), "bob@bmail.test", "Your code is 123456", "x")
	}()

	msg, err := bob.WaitForMessage(context.Background(),
		WithSubjectRegex(regexp.MustCompile(`code is \d{6}`)),
		WithWaitTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("WaitForMessage() error = %v", err)
	}
	if msg.Payload.Subject != "Your code is 123456" {
		t.Errorf("Subject = %q", msg.Payload.Subject)
	}
}

func TestWaitForMessage_Timeout(t *testing.T) {
	w := newWorld(t)
	bob := w.user(t, "bob@bmail.test")

	_, err := bob.WaitForMessage(context.Background(), WithWaitTimeout(50*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForMessage() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitForMessageCount(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	mustSend(t, alice, "bob@bmail.test", "one", "1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		alice.Send(ctx, "bob@bmail.test", "two", "2")
		alice.Send(ctx, "bob@bmail.test", "three", "3")
	}()

	msgs, err := bob.WaitForMessageCount(ctx, 3, WithWaitTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("WaitForMessageCount() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3", len(msgs))
	}

	if msgs, err := bob.WaitForMessageCount(ctx, 0); err != nil || len(msgs) != 0 {
		t.Errorf("WaitForMessageCount(0) = %d, %v", len(msgs), err)
	}
	if _, err := bob.WaitForMessageCount(ctx, -1); err == nil {
		t.Error("WaitForMessageCount(-1) error = nil")
	}
}

func TestMonitor(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	carol := w.user(t, "carol@bmail.test")

	type arrival struct {
		identity string
		subject  string
	}
	var (
		mu       sync.Mutex
		arrivals []arrival
	)
	got := make(chan struct{}, 8)

	monitor := NewMonitor(bob, carol)
	sub, err := monitor.OnMessage(ctx, func(c *Client, m *Message) {
		mu.Lock()
		arrivals = append(arrivals, arrival{c.Identity(), m.Payload.Subject})
		mu.Unlock()
		got <- struct{}{}
	})
	if err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}

	mustSend(t, alice, "bob@bmail.test", "for bob", "x")
	mustSend(t, alice, "carol@bmail.test", "for carol", "y")
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d arrivals", i)
		}
	}

	mu.Lock()
	seen := map[arrival]bool{}
	for _, a := range arrivals {
		seen[a] = true
	}
	mu.Unlock()
	if !seen[arrival{"bob@bmail.test", "for bob"}] || !seen[arrival{"carol@bmail.test", "for carol"}] {
		t.Errorf("arrivals = %+v", arrivals)
	}

	sub.Unsubscribe()
	monitor.Unsubscribe()
	mustSend(t, alice, "bob@bmail.test", "ignored", "z")
	select {
	case <-got:
		t.Error("callback ran after Unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_StartFailure(t *testing.T) {
	w := newWorld(t)
	bob := w.user(t, "bob@bmail.test")
	bob.Close()

	_, err := NewMonitor(bob).OnMessage(context.Background(), func(*Client, *Message) {})
	if !errors.Is(err, ErrClientClosed) {
		t.Errorf("OnMessage() error = %v, want ErrClientClosed", err)
	}
}
