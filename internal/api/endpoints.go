package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/praveen5665/bmail/internal/apierrors"
)

// Directory paths, relative to the directory base URL.
const (
	PathPublicKey = "/users/publicKey"
	PathAddress   = "/users/ethAddress"
)

// LookupPublicKey returns the PEM public key registered for identity.
// An unknown identity fails with ErrRecipientUnknown.
func (c *Client) LookupPublicKey(ctx context.Context, identity string) (string, error) {
	path := PathPublicKey + "?email=" + url.QueryEscape(identity)
	var result publicKeyResponse
	if err := c.Do(ctx, "GET", path, nil, &result); err != nil {
		return "", apierrors.WithResourceType(err, apierrors.ResourceIdentity)
	}
	if result.PublicKey == "" {
		return "", fmt.Errorf("%w: no public key for %s", ErrRecipientUnknown, identity)
	}
	return result.PublicKey, nil
}

// LookupAddress returns the ledger address registered for identity.
// An unknown identity fails with ErrRecipientUnknown.
func (c *Client) LookupAddress(ctx context.Context, identity string) (string, error) {
	path := PathAddress + "?email=" + url.QueryEscape(identity)
	var result addressResponse
	if err := c.Do(ctx, "GET", path, nil, &result); err != nil {
		return "", apierrors.WithResourceType(err, apierrors.ResourceIdentity)
	}
	if result.value() == "" {
		return "", fmt.Errorf("%w: no address for %s", ErrRecipientUnknown, identity)
	}
	return result.value(), nil
}
