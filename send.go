package bmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/praveen5665/bmail/internal/crypto"
)

// Send outcomes recorded in the bmail_sends_total metric.
const (
	outcomeOK               = "ok"
	outcomeRecipientUnknown = "recipient_unknown"
	outcomeDirectoryFailed  = "directory_failed"
	outcomeEncryptFailed    = "encrypt_failed"
	outcomeUploadFailed     = "upload_failed"
	outcomeLedgerFailed     = "ledger_failed"
	outcomeClosed           = "closed"
)

// SendResult reports the outcome of Send and SaveDraft. Failures are
// reported here rather than as a Go error: Success is false, Error holds
// the message to show the user and Err the underlying error for errors.Is.
type SendResult struct {
	Success     bool
	MessageID   uint64
	ContentID   string
	TxHash      common.Hash
	IDConfirmed bool

	Error string
	Err   error
}

func failedResult(err error) *SendResult {
	return &SendResult{Error: err.Error(), Err: err}
}

// sealed is an encrypted message that has been uploaded but not yet
// recorded on the ledger.
type sealed struct {
	recipient common.Address
	contentID string
}

// seal resolves the recipient, encrypts the payload for them and uploads
// the envelope. Each step runs only if the previous one succeeded. outcome
// names the failed step. A non-zero expect must equal the resolved address.
func (c *Client) seal(ctx context.Context, recipientIdentity, subject, body string, expect common.Address) (*sealed, string, error) {
	publicKey, addr, err := c.resolveRecipient(ctx, recipientIdentity)
	if err != nil {
		if errors.Is(err, ErrRecipientUnknown) {
			return nil, outcomeRecipientUnknown, err
		}
		return nil, outcomeDirectoryFailed, err
	}
	if expect != (common.Address{}) && addr != expect {
		return nil, outcomeRecipientUnknown, fmt.Errorf("bmail: %s resolves to %s, not %s", recipientIdentity, addr.Hex(), expect.Hex())
	}

	env, err := crypto.Encrypt(&crypto.Payload{
		Subject:   subject,
		Body:      body,
		Timestamp: c.now().Unix(),
		Sender:    c.identity,
	}, publicKey)
	if err != nil {
		return nil, outcomeEncryptFailed, err
	}

	contentID, err := c.content.Upload(ctx, env)
	if err != nil {
		return nil, outcomeUploadFailed, err
	}
	c.log.Debugf("Uploaded message for %s as %s", recipientIdentity, contentID)

	return &sealed{recipient: addr, contentID: contentID}, "", nil
}

// Send encrypts a message for recipientIdentity, stores it and records it
// on the ledger. Nothing is uploaded unless the recipient resolves, and
// nothing is recorded unless the upload succeeds. If the ledger write fails
// after the upload, Err is an UndeliveredError carrying the orphaned
// content id.
func (c *Client) Send(ctx context.Context, recipientIdentity, subject, body string) *SendResult {
	if err := c.checkClosed(); err != nil {
		c.metrics.Send(outcomeClosed)
		return failedResult(err)
	}

	s, outcome, err := c.seal(ctx, recipientIdentity, subject, body, common.Address{})
	if err != nil {
		c.log.Warningf("Send to %s failed: %v", recipientIdentity, err)
		c.metrics.Send(outcome)
		return failedResult(err)
	}

	receipt, err := c.ledger.Append(ctx, s.recipient, s.contentID)
	if err != nil {
		c.log.Errorf("Content %s for %s uploaded but not recorded: %v", s.contentID, recipientIdentity, err)
		c.metrics.Send(outcomeLedgerFailed)
		res := failedResult(&UndeliveredError{ContentID: s.contentID, Err: err})
		res.ContentID = s.contentID
		return res
	}

	c.log.Infof("Sent message %d to %s (tx %s)", receipt.ID, recipientIdentity, receipt.TxHash.Hex())
	c.metrics.Send(outcomeOK)
	return &SendResult{
		Success:     true,
		MessageID:   receipt.ID,
		ContentID:   s.contentID,
		TxHash:      receipt.TxHash,
		IDConfirmed: receipt.IDConfirmed,
	}
}
