package api

import "github.com/praveen5665/bmail/internal/apierrors"

// Error types returned by Client. They live in apierrors so the packages that
// consume them do not need to import the transport.
type (
	APIError     = apierrors.APIError
	NetworkError = apierrors.NetworkError
	ResourceType = apierrors.ResourceType
)

// Common errors that can be checked with errors.Is.
var (
	ErrUnauthorized     = apierrors.ErrUnauthorized
	ErrRateLimited      = apierrors.ErrRateLimited
	ErrRecipientUnknown = apierrors.ErrRecipientUnknown
)
