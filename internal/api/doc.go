// Package api provides the HTTP client used to reach the identity directory,
// the pinning service and IPFS gateways. It handles Bearer authentication,
// request/response serialization, and retries of idempotent requests with
// exponential backoff.
//
// # Client Creation
//
//   - [NewClient]: Struct-based configuration for explicit, type-safe setup.
//   - [New]: Functional options pattern for flexible configuration.
//
// # Retry Behavior
//
// GET and HEAD requests are retried according to a [RetryConfig]. By default
// up to 3 retries are made for these HTTP status codes and for transport
// failures:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// Requests that change state (POST, PUT) are never retried. The same
// [RetryConfig] type is used by the ledger client for its read calls.
//
// # Directory
//
// [Client.LookupPublicKey] and [Client.LookupAddress] resolve an identity.
// A 404 or an empty answer matches [ErrRecipientUnknown]:
//
//	if errors.Is(err, api.ErrRecipientUnknown) {
//	    // no such user
//	}
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
