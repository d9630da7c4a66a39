package bmail

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/praveen5665/bmail/internal/crypto"
	"github.com/praveen5665/bmail/internal/ledger"
)

// Record is the ledger side of a message.
type Record = ledger.Record

// Payload is the decrypted content of a message.
type Payload = crypto.Payload

// KeyPair is an RSA key pair in PEM form.
type KeyPair = crypto.KeyPair

// Message is a ledger record together with its decrypted payload. When the
// content could not be fetched or decrypted Payload is nil and
// DecryptionError says why; listing never fails because of one message.
type Message struct {
	Record
	Payload         *Payload
	DecryptionError error
}

// Decrypted reports whether the payload was read.
func (m *Message) Decrypted() bool {
	return m.Payload != nil
}

// Folder selects which records a listing returns.
type Folder int

const (
	// FolderInbox holds sent messages addressed to the caller.
	FolderInbox Folder = iota
	// FolderSent holds sent messages written by the caller.
	FolderSent
	// FolderDrafts holds the caller's unsent drafts.
	FolderDrafts
)

func (f Folder) String() string {
	switch f {
	case FolderInbox:
		return "inbox"
	case FolderSent:
		return "sent"
	case FolderDrafts:
		return "drafts"
	default:
		return "unknown"
	}
}

// contains reports whether r belongs in folder f for the mailbox self.
func (f Folder) contains(r *Record, self common.Address) bool {
	switch f {
	case FolderInbox:
		return r.Recipient == self && !r.IsDraft
	case FolderSent:
		return r.Sender == self && !r.IsDraft
	case FolderDrafts:
		return r.Sender == self && r.IsDraft
	default:
		return false
	}
}
