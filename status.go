package bmail

import (
	"context"
	"fmt"
)

// UpdateStatus sets the read and starred flags of message id. The draft
// flag is left as it is; use SendDraft to send a draft. The ledger only
// accepts updates from the sender or recipient of a message, others fail
// with ErrNotAuthorized.
func (c *Client) UpdateStatus(ctx context.Context, id uint64, isRead, isStarred bool) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.setStatus(ctx, rec, isRead, isStarred)
}

// setStatus writes the flags to the ledger. An update that changes nothing
// sends no transaction, so the caller is checked against the record here
// instead of by the ledger.
func (c *Client) setStatus(ctx context.Context, rec *Record, isRead, isStarred bool) error {
	if rec.IsRead == isRead && rec.IsStarred == isStarred {
		self, err := c.Address(ctx)
		if err != nil {
			return err
		}
		if self != rec.Sender && self != rec.Recipient {
			return fmt.Errorf("%w: message %d is not addressed to or from %s", ErrNotAuthorized, rec.ID, self.Hex())
		}
		return nil
	}
	if err := c.ledger.UpdateStatus(ctx, rec.ID, isRead, isStarred, rec.IsDraft); err != nil {
		return err
	}
	c.log.Debugf("Message %d: read=%v starred=%v", rec.ID, isRead, isStarred)
	return nil
}

// MarkRead marks message id as read.
func (c *Client) MarkRead(ctx context.Context, id uint64) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.setStatus(ctx, rec, true, rec.IsStarred)
}

// ToggleStar flips the starred flag of message id and returns the new value.
func (c *Client) ToggleStar(ctx context.Context, id uint64) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}
	starred := !rec.IsStarred
	if err := c.setStatus(ctx, rec, rec.IsRead, starred); err != nil {
		return rec.IsStarred, err
	}
	return starred, nil
}
