package bmail

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/praveen5665/bmail/internal/keystore"
)

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	carol := w.user(t, "carol@bmail.test")

	mustSend(t, alice, "bob@bmail.test", "first", "1")
	mustSend(t, carol, "bob@bmail.test", "second", "2")
	mustSend(t, alice, "carol@bmail.test", "not for bob", "x")
	mustSend(t, alice, "bob@bmail.test", "third", "3")

	inbox, err := bob.ListInbox(ctx)
	if err != nil {
		t.Fatalf("ListInbox() error = %v", err)
	}
	want := []string{"third", "second", "first"}
	if got := subjects(inbox); !reflect.DeepEqual(got, want) {
		t.Errorf("ListInbox() subjects = %v, want %v", got, want)
	}
	for i := 1; i < len(inbox); i++ {
		if inbox[i].CreatedAt.After(inbox[i-1].CreatedAt) {
			t.Errorf("message %d is newer than message %d", inbox[i].ID, inbox[i-1].ID)
		}
	}
}

func TestList_PartialFailure(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")

	mustSend(t, alice, "bob@bmail.test", "one", "1")
	broken := mustSend(t, alice, "bob@bmail.test", "two", "2")
	mustSend(t, alice, "bob@bmail.test", "three", "3")
	w.content.breakFetch(broken.ContentID)

	inbox, err := bob.ListInbox(ctx)
	if err != nil {
		t.Fatalf("ListInbox() error = %v", err)
	}
	if len(inbox) != 3 {
		t.Fatalf("inbox has %d messages, want 3", len(inbox))
	}

	var readable int
	for _, m := range inbox {
		if m.ID != broken.MessageID {
			if !m.Decrypted() {
				t.Errorf("message %d: DecryptionError = %v", m.ID, m.DecryptionError)
			}
			readable++
			continue
		}
		if m.Payload != nil {
			t.Errorf("message %d: Payload = %+v, want nil", m.ID, m.Payload)
		}
		if !errors.Is(m.DecryptionError, ErrContentUnavailable) {
			t.Errorf("message %d: DecryptionError = %v, want ErrContentUnavailable", m.ID, m.DecryptionError)
		}
		var decErr *DecryptionError
		if !errors.As(m.DecryptionError, &decErr) || decErr.Stage != StageFetch {
			t.Errorf("message %d: stage = %v, want %s", m.ID, m.DecryptionError, StageFetch)
		}
	}
	if readable != 2 {
		t.Errorf("%d readable messages, want 2", readable)
	}
}

func TestList_KeyNotFound(t *testing.T) {
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	w.user(t, "bob@bmail.test")
	mustSend(t, alice, "bob@bmail.test", "Hi", "Hello")

	// Same account as bob, but a device that never saw bob's key.
	stranger := w.newClient(t, "bob@bmail.test", w.signingLedger(t),
		WithKeyStore(keystore.New()))

	_, err := stranger.ListInbox(context.Background())
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("ListInbox() error = %v, want ErrKeyNotFound", err)
	}
	_, err = stranger.GetMessage(context.Background(), 1)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetMessage() error = %v, want ErrKeyNotFound", err)
	}
}

func TestList_Folders(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")

	mustSend(t, alice, "bob@bmail.test", "sent", "s")
	if res := alice.SaveDraft(ctx, "bob@bmail.test", "draft", "d"); !res.Success {
		t.Fatalf("SaveDraft() failed: %s", res.Error)
	}
	mustSend(t, bob, "alice@bmail.test", "reply", "r")

	tests := []struct {
		client *Client
		folder Folder
		want   int
	}{
		{alice, FolderInbox, 1},
		{alice, FolderSent, 1},
		{alice, FolderDrafts, 1},
		{bob, FolderInbox, 1},
		{bob, FolderSent, 1},
		{bob, FolderDrafts, 0},
	}
	for _, tt := range tests {
		t.Run(tt.client.Identity()+"/"+tt.folder.String(), func(t *testing.T) {
			msgs, err := tt.client.List(ctx, tt.folder)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(msgs) != tt.want {
				t.Errorf("List() returned %d messages, want %d", len(msgs), tt.want)
			}
		})
	}
}

func TestList_LedgerUnavailable(t *testing.T) {
	w := newWorld(t)
	bob := w.user(t, "bob@bmail.test")
	w.sim.SetCallErr(errors.New("connection refused"))
	defer w.sim.SetCallErr(nil)

	if _, err := bob.ListInbox(context.Background()); err == nil {
		t.Error("ListInbox() error = nil, want listing failure")
	}
}

func TestGetMessage(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.user(t, "alice@bmail.test")
	bob := w.user(t, "bob@bmail.test")
	res := mustSend(t, alice, "bob@bmail.test", "Hi", "Hello")

	msg, err := bob.GetMessage(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if msg.Payload == nil || msg.Payload.Body != "Hello" {
		t.Errorf("GetMessage() payload = %+v, error = %v", msg.Payload, msg.DecryptionError)
	}

	if _, err := bob.GetMessage(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage(99) error = %v, want ErrNotFound", err)
	}
}

func TestFolder_String(t *testing.T) {
	tests := []struct {
		folder Folder
		want   string
	}{
		{FolderInbox, "inbox"},
		{FolderSent, "sent"},
		{FolderDrafts, "drafts"},
		{Folder(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.folder.String(); got != tt.want {
			t.Errorf("Folder(%d).String() = %s, want %s", tt.folder, got, tt.want)
		}
	}
}

func TestDecryptStage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrKeyMismatch, StageUnwrap},
		{ErrTamperedCiphertext, StageOpen},
		{ErrInvalidEnvelope, StageEnvelope},
		{errors.New("boom"), StageEnvelope},
	}
	for _, tt := range tests {
		if got := decryptStage(tt.err); got != tt.want {
			t.Errorf("decryptStage(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
