package bmail

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SaveDraft stores an unsent message addressed to recipientIdentity. Like
// a sent message the content is encrypted for the recipient, so the draft
// can later be sent without re-encrypting.
func (c *Client) SaveDraft(ctx context.Context, recipientIdentity, subject, body string) *SendResult {
	if err := c.checkClosed(); err != nil {
		return failedResult(err)
	}

	s, _, err := c.seal(ctx, recipientIdentity, subject, body, common.Address{})
	if err != nil {
		c.log.Warningf("Saving draft to %s failed: %v", recipientIdentity, err)
		return failedResult(err)
	}

	receipt, err := c.ledger.SaveDraft(ctx, s.recipient, s.contentID)
	if err != nil {
		c.log.Errorf("Draft content %s uploaded but not recorded: %v", s.contentID, err)
		res := failedResult(&UndeliveredError{ContentID: s.contentID, Err: err})
		res.ContentID = s.contentID
		return res
	}

	c.log.Infof("Saved draft %d to %s", receipt.ID, recipientIdentity)
	return &SendResult{
		Success:     true,
		MessageID:   receipt.ID,
		ContentID:   s.contentID,
		TxHash:      receipt.TxHash,
		IDConfirmed: receipt.IDConfirmed,
	}
}

// ownDraft returns the record for id after checking that it is a draft
// written by the caller.
func (c *Client) ownDraft(ctx context.Context, id uint64) (*Record, error) {
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsDraft {
		return nil, fmt.Errorf("%w: %d", ErrNotDraft, id)
	}
	self, err := c.Address(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Sender != self {
		return nil, fmt.Errorf("%w: draft %d belongs to %s", ErrNotAuthorized, id, rec.Sender.Hex())
	}
	return rec, nil
}

// UpdateDraft replaces the subject and body of draft id. recipientIdentity
// must resolve to the address the draft was saved for, since the new
// content is encrypted for that recipient. Sent messages cannot be
// changed and fail with ErrNotDraft.
func (c *Client) UpdateDraft(ctx context.Context, id uint64, recipientIdentity, subject, body string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	rec, err := c.ownDraft(ctx, id)
	if err != nil {
		return err
	}

	s, _, err := c.seal(ctx, recipientIdentity, subject, body, rec.Recipient)
	if err != nil {
		return err
	}

	if err := c.ledger.UpdateDraft(ctx, id, s.contentID); err != nil {
		return &UndeliveredError{ContentID: s.contentID, Err: err}
	}
	c.log.Infof("Updated draft %d (content %s)", id, s.contentID)
	return nil
}

// SendDraft turns draft id into a sent message. The read and starred flags
// are kept. Sending is one-way: a message that is already sent fails with
// ErrNotDraft.
func (c *Client) SendDraft(ctx context.Context, id uint64) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	rec, err := c.ownDraft(ctx, id)
	if err != nil {
		return err
	}

	if err := c.ledger.UpdateStatus(ctx, id, rec.IsRead, rec.IsStarred, false); err != nil {
		return err
	}
	c.log.Infof("Sent draft %d to %s", id, rec.Recipient.Hex())
	return nil
}
