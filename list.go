package bmail

import (
	"context"
	"crypto/rsa"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/praveen5665/bmail/internal/crypto"
)

// ListInbox returns sent messages addressed to the caller, newest first.
func (c *Client) ListInbox(ctx context.Context) ([]*Message, error) {
	return c.List(ctx, FolderInbox)
}

// ListSent returns messages the caller sent, newest first.
func (c *Client) ListSent(ctx context.Context) ([]*Message, error) {
	return c.List(ctx, FolderSent)
}

// ListDrafts returns the caller's drafts, newest first.
func (c *Client) ListDrafts(ctx context.Context) ([]*Message, error) {
	return c.List(ctx, FolderDrafts)
}

// List returns the messages in folder, newest first. Messages are fetched
// and decrypted concurrently; one that cannot be read is still returned
// with a nil Payload and its DecryptionError set. Ids whose ledger record
// cannot be read are logged and left out. A missing private key fails the
// whole listing with ErrKeyNotFound.
func (c *Client) List(ctx context.Context, folder Folder) ([]*Message, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	priv, err := c.parsedPrivateKey(ctx)
	if err != nil {
		return nil, err
	}
	self, err := c.Address(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := c.ledger.ListByAddress(ctx, self)
	if err != nil {
		return nil, err
	}

	records, err := c.records(ctx, ids)
	if err != nil {
		return nil, err
	}
	selected := records[:0]
	for _, rec := range records {
		if folder.contains(rec, self) {
			selected = append(selected, rec)
		}
	}

	messages, err := c.openAll(ctx, selected, priv)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})

	c.log.Debugf("Listed %d %s messages from %d ids", len(messages), folder, len(ids))
	return messages, nil
}

// GetMessage returns message id with its payload decrypted. As in listings
// a decryption failure is reported in Message.DecryptionError.
func (c *Client) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	priv, err := c.parsedPrivateKey(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, rec, priv), nil
}

func (c *Client) parsedPrivateKey(ctx context.Context) (*rsa.PrivateKey, error) {
	pem, err := c.loadPrivateKey(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.ParsePrivateKey(pem)
}

// records reads the ledger record of every distinct id. Failed reads are
// logged and skipped.
func (c *Client) records(ctx context.Context, ids []uint64) ([]*Record, error) {
	unique := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]*Record, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			rec, err := c.ledger.Get(gctx, id)
			if err != nil {
				c.log.Warningf("Skipping message %d: %v", id, err)
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, rec := range results {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// openAll fetches and decrypts records concurrently.
func (c *Client) openAll(ctx context.Context, records []*Record, priv *rsa.PrivateKey) ([]*Message, error) {
	messages := make([]*Message, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			messages[i] = c.open(gctx, rec, priv)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// open fetches and decrypts the content of rec. It never fails; problems
// are recorded on the returned message.
func (c *Client) open(ctx context.Context, rec *Record, priv *rsa.PrivateKey) *Message {
	msg := &Message{Record: *rec}

	fail := func(stage string, err error) *Message {
		c.log.Warningf("Message %d (%s) unreadable at %s: %v", rec.ID, rec.ContentID, stage, err)
		c.metrics.ListFailure(stage)
		msg.DecryptionError = &DecryptionError{Stage: stage, Err: err}
		return msg
	}

	data, err := c.content.Fetch(ctx, rec.ContentID)
	if err != nil {
		return fail(StageFetch, err)
	}
	env, err := crypto.ParseEnvelope(data)
	if err != nil {
		return fail(StageEnvelope, err)
	}
	payload, err := crypto.DecryptEnvelope(env, priv)
	if err != nil {
		return fail(decryptStage(err), err)
	}
	msg.Payload = payload
	return msg
}

// decryptStage maps a decryption error to the stage that produced it.
func decryptStage(err error) string {
	switch {
	case errors.Is(err, crypto.ErrKeyMismatch):
		return StageUnwrap
	case errors.Is(err, crypto.ErrTamperedCiphertext):
		return StageOpen
	case errors.Is(err, crypto.ErrInvalidPayload):
		return StagePayload
	default:
		return StageEnvelope
	}
}
