package bmail

import (
	"errors"

	"github.com/praveen5665/bmail/internal/apierrors"
	"github.com/praveen5665/bmail/internal/keystore"
	"github.com/praveen5665/bmail/internal/ledger"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrMissingIdentity is returned when a client is created without an identity.
	ErrMissingIdentity = errors.New("identity is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = apierrors.ErrClientClosed

	// ErrCryptoFailure is returned when a cryptographic primitive fails.
	ErrCryptoFailure = apierrors.ErrCryptoFailure

	// ErrKeyNotFound is returned when no private key is stored for the identity.
	ErrKeyNotFound = apierrors.ErrKeyNotFound

	// ErrKeyMismatch is returned when a message was encrypted for another key.
	ErrKeyMismatch = apierrors.ErrKeyMismatch

	// ErrTamperedCiphertext is returned when stored content fails authentication.
	ErrTamperedCiphertext = apierrors.ErrTamperedCiphertext

	// ErrInvalidEnvelope is returned when stored content is not an envelope.
	ErrInvalidEnvelope = apierrors.ErrInvalidEnvelope

	// ErrDecryptionFailed is matched by every DecryptionError.
	ErrDecryptionFailed = apierrors.ErrDecryptionFailed

	// ErrRecipientUnknown is returned when the directory cannot resolve a recipient.
	ErrRecipientUnknown = apierrors.ErrRecipientUnknown

	// ErrStorageUnavailable is returned when the pinning service rejects an upload.
	ErrStorageUnavailable = apierrors.ErrStorageUnavailable

	// ErrContentUnavailable is returned when no gateway can serve a content id.
	ErrContentUnavailable = apierrors.ErrContentUnavailable

	// ErrNotAuthorized is returned when the ledger rejects the caller.
	ErrNotAuthorized = apierrors.ErrNotAuthorized

	// ErrNotFound is returned for a record id the ledger does not hold.
	ErrNotFound = apierrors.ErrNotFound

	// ErrNotDelivered is returned when content was uploaded but not recorded.
	ErrNotDelivered = apierrors.ErrNotDelivered

	// ErrNotDraft is returned when a draft operation targets a sent message.
	ErrNotDraft = apierrors.ErrNotDraft

	// ErrKeyStoreUnavailable is returned when no key store backend accepts a write.
	ErrKeyStoreUnavailable = apierrors.ErrKeyStoreUnavailable

	// ErrUnauthorized is returned when the directory rejects our credentials.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrRateLimited is returned when a service rate limit is exceeded.
	ErrRateLimited = apierrors.ErrRateLimited

	// ErrKeyExists is returned by Register when the identity already has a key.
	ErrKeyExists = keystore.ErrKeyExists

	// ErrInvalidMnemonic is returned when a backup mnemonic fails its checksum.
	ErrInvalidMnemonic = keystore.ErrInvalidMnemonic

	// ErrReadOnly is returned for writes on a ledger without a signing key.
	ErrReadOnly = ledger.ErrReadOnly

	// ErrInvalidBackup is returned when a key backup file fails validation.
	ErrInvalidBackup = errors.New("invalid key backup")
)

// Error types shared with the internal packages.
type (
	// APIError is an HTTP error from the identity directory or a gateway.
	APIError = apierrors.APIError

	// NetworkError is a transport failure.
	NetworkError = apierrors.NetworkError

	// DecryptionError is a per-message failure to read stored content.
	DecryptionError = apierrors.DecryptionError

	// RecipientError reports a recipient the directory could not resolve.
	RecipientError = apierrors.RecipientError

	// UndeliveredError carries the content id orphaned by a failed ledger write.
	UndeliveredError = apierrors.UndeliveredError

	// ContentUnavailableError is returned after every gateway failed.
	ContentUnavailableError = apierrors.ContentUnavailableError

	// RevertError is a ledger call rejected by the contract.
	RevertError = apierrors.RevertError
)

// Decryption stages reported in DecryptionError.Stage.
const (
	StageFetch    = "fetch"
	StageEnvelope = "envelope"
	StageUnwrap   = "unwrap"
	StageOpen     = "open"
	StagePayload  = "payload"
)
