package crypto

import (
	"errors"

	"github.com/praveen5665/bmail/internal/apierrors"
)

// Errors shared with the rest of the client so callers can match them
// without importing this package.
var (
	ErrCryptoFailure      = apierrors.ErrCryptoFailure
	ErrKeyMismatch        = apierrors.ErrKeyMismatch
	ErrTamperedCiphertext = apierrors.ErrTamperedCiphertext
	ErrInvalidEnvelope    = apierrors.ErrInvalidEnvelope
)

var (
	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidTagSize is returned when the authentication tag size is invalid.
	ErrInvalidTagSize = errors.New("invalid tag size")

	// ErrInvalidPEM is returned when a key is not PEM encoded or has the wrong type.
	ErrInvalidPEM = errors.New("invalid PEM key")

	// ErrInvalidPayload is returned when decrypted bytes are not a message payload.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrSealedBoxInvalid is returned when a sealed key backup is malformed.
	ErrSealedBoxInvalid = errors.New("sealed box is invalid")

	// ErrSealedBoxAuth is returned when a sealed key backup fails authentication.
	ErrSealedBoxAuth = errors.New("sealed box authentication failed")
)
