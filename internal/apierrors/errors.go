// Package apierrors provides shared error types for the Bmail client.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrCryptoFailure is returned when a cryptographic primitive fails,
	// typically because the random source could not be read.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrKeyNotFound is returned when no backend holds a private key for the identity.
	ErrKeyNotFound = errors.New("private key not found")

	// ErrKeyMismatch is returned when a message was not encrypted for the supplied key.
	ErrKeyMismatch = errors.New("message was not encrypted for this key")

	// ErrTamperedCiphertext is returned when the ciphertext or its tag fails authentication.
	ErrTamperedCiphertext = errors.New("ciphertext failed authentication")

	// ErrInvalidEnvelope is returned when stored content is not a recognizable envelope.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrDecryptionFailed is matched by every DecryptionError.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrRecipientUnknown is returned when the directory has no public key or
	// address for a recipient.
	ErrRecipientUnknown = errors.New("recipient not found")

	// ErrStorageUnavailable is returned when the pinning service is unreachable
	// or rejects an upload.
	ErrStorageUnavailable = errors.New("content storage unavailable")

	// ErrContentUnavailable is returned when no gateway could serve a content id.
	ErrContentUnavailable = errors.New("content unavailable")

	// ErrInvalidContentID is returned for malformed content ids.
	ErrInvalidContentID = errors.New("invalid content id")

	// ErrNotAuthorized is returned when the ledger rejects a caller that is
	// neither sender nor recipient of a record.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound is returned when a ledger record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotDelivered is returned when content was uploaded but the ledger
	// append failed, leaving the content orphaned.
	ErrNotDelivered = errors.New("message not delivered")

	// ErrNotDraft is returned when a draft-only operation targets a sent message.
	ErrNotDraft = errors.New("message is not a draft")

	// ErrKeyStoreUnavailable is returned when every key store backend rejects a write.
	ErrKeyStoreUnavailable = errors.New("key store unavailable")

	// ErrUnauthorized is returned when an HTTP service rejects our credentials.
	ErrUnauthorized = errors.New("invalid or expired credentials")

	// ErrRateLimited is returned when an HTTP service rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown ResourceType = ""
	// ResourceIdentity indicates the error relates to a directory identity.
	ResourceIdentity ResourceType = "identity"
	// ResourceContent indicates the error relates to stored content.
	ResourceContent ResourceType = "content"
)

// APIError represents an HTTP error from the directory, pinning service or a gateway.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		switch e.ResourceType {
		case ResourceIdentity:
			return target == ErrRecipientUnknown
		case ResourceContent:
			return target == ErrContentUnavailable
		default:
			return target == ErrNotFound
		}
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not an *APIError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: rt,
		}
	}
	return err
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecryptionError represents a failure to turn a ledger record into plaintext.
type DecryptionError struct {
	Stage   string // "key", "fetch", "envelope", "unwrap", "open", "payload"
	Message string
	Err     error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("decryption failed at %s: %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

// RecipientError reports that a recipient could not be resolved.
type RecipientError struct {
	Identity string
	Err      error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("Recipient %s not found", e.Identity)
}

// Unwrap returns the underlying error.
func (e *RecipientError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RecipientError) Is(target error) bool {
	return target == ErrRecipientUnknown
}

// UndeliveredError is returned when the encrypted content was stored but the
// ledger record pointing at it could not be written.
type UndeliveredError struct {
	ContentID string
	Err       error
}

func (e *UndeliveredError) Error() string {
	return fmt.Sprintf("content %s uploaded but not recorded: %v", e.ContentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *UndeliveredError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *UndeliveredError) Is(target error) bool {
	return target == ErrNotDelivered
}

// ContentUnavailableError is returned after every gateway failed to serve a content id.
type ContentUnavailableError struct {
	ContentID string
	Attempts  int
	Err       error
}

func (e *ContentUnavailableError) Error() string {
	return fmt.Sprintf("content %s unavailable after %d attempts: %v", e.ContentID, e.Attempts, e.Err)
}

// Unwrap returns the last gateway error.
func (e *ContentUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *ContentUnavailableError) Is(target error) bool {
	return target == ErrContentUnavailable
}

// RevertError is a ledger call rejected by the contract.
type RevertError struct {
	Method string
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s reverted: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s reverted: %v", e.Method, e.Err)
}

// Unwrap returns the underlying error.
func (e *RevertError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RevertError) Is(target error) bool {
	reason := strings.ToLower(e.Reason)
	switch target {
	case ErrNotAuthorized:
		return strings.Contains(reason, "not authorized")
	case ErrNotFound:
		return strings.Contains(reason, "does not exist")
	case ErrNotDraft:
		return strings.Contains(reason, "not a draft")
	}
	return false
}
