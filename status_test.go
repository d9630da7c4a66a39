package bmail

import (
	"context"
	"errors"
	"testing"
)

func TestStatus_MarkReadAndStar(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	id := mustSend(t, alice, "bob@bmail.test", "Hi", "Hello").MessageID

	if err := bob.MarkRead(ctx, id); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	starred, err := bob.ToggleStar(ctx, id)
	if err != nil {
		t.Fatalf("ToggleStar() error = %v", err)
	}
	if !starred {
		t.Error("ToggleStar() = false, want true")
	}

	msg, err := bob.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if !msg.IsRead || !msg.IsStarred || msg.IsDraft {
		t.Errorf("flags = read:%v starred:%v draft:%v, want read and starred", msg.IsRead, msg.IsStarred, msg.IsDraft)
	}

	// The sender shares the flags.
	starred, err = alice.ToggleStar(ctx, id)
	if err != nil {
		t.Fatalf("sender ToggleStar() error = %v", err)
	}
	if starred {
		t.Error("second ToggleStar() = true, want false")
	}

	if err := bob.UpdateStatus(ctx, id, false, false); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	msg, _ = bob.GetMessage(ctx, id)
	if msg.IsRead || msg.IsStarred {
		t.Errorf("after UpdateStatus(false, false) read=%v starred=%v", msg.IsRead, msg.IsStarred)
	}
}

func TestStatus_UnchangedSkipsLedger(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	id := mustSend(t, alice, "bob@bmail.test", "Hi", "Hello").MessageID

	if err := bob.MarkRead(ctx, id); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	txs := w.sim.Sent()
	if err := bob.MarkRead(ctx, id); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}
	if n := w.sim.Sent() - txs; n != 0 {
		t.Errorf("repeated MarkRead() sent %d transactions, want 0", n)
	}

	// The sender may restate the flags too.
	if err := alice.UpdateStatus(ctx, id, true, false); err != nil {
		t.Fatalf("sender UpdateStatus() unchanged error = %v", err)
	}
	if n := w.sim.Sent() - txs; n != 0 {
		t.Errorf("unchanged UpdateStatus() sent %d transactions, want 0", n)
	}
}

func TestStatus_KeepsDraftFlag(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	w.user(t, "bob@bmail.test")

	res := alice.SaveDraft(ctx, "bob@bmail.test", "Draft", "text")
	if !res.Success {
		t.Fatalf("SaveDraft() failed: %s", res.Error)
	}
	if _, err := alice.ToggleStar(ctx, res.MessageID); err != nil {
		t.Fatalf("ToggleStar() error = %v", err)
	}
	drafts, err := alice.ListDrafts(ctx)
	if err != nil {
		t.Fatalf("ListDrafts() error = %v", err)
	}
	if len(drafts) != 1 || !drafts[0].IsStarred {
		t.Errorf("ListDrafts() = %+v, want one starred draft", drafts)
	}
}

func TestStatus_ThirdPartyNotAuthorized(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	w.user(t, "bob@bmail.test")
	mallory := w.user(t, "mallory@bmail.test")
	id := mustSend(t, alice, "bob@bmail.test", "Hi", "Hello").MessageID

	if err := mallory.MarkRead(ctx, id); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("MarkRead() by third party error = %v, want ErrNotAuthorized", err)
	}
	var revert *RevertError
	if _, err := mallory.ToggleStar(ctx, id); !errors.As(err, &revert) {
		t.Errorf("ToggleStar() by third party error = %#v, want *RevertError", err)
	}

	// Restating the current flags changes nothing but is still refused.
	txs := w.sim.Sent()
	if err := mallory.UpdateStatus(ctx, id, false, false); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("UpdateStatus() unchanged by third party error = %v, want ErrNotAuthorized", err)
	}
	if n := w.sim.Sent() - txs; n != 0 {
		t.Errorf("refused UpdateStatus() sent %d transactions, want 0", n)
	}
}

func TestStatus_NotFound(t *testing.T) {
	w := newWorld(t)
	bob := w.user(t, "bob@bmail.test")

	if err := bob.MarkRead(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkRead(3) error = %v, want ErrNotFound", err)
	}
}
