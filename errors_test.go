package bmail

import (
	"errors"
	"fmt"
	"testing"

	"github.com/praveen5665/bmail/internal/apierrors"
)

func TestErrors_Sentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"recipient error", &RecipientError{Identity: "bob@x", Err: errors.New("404")}, ErrRecipientUnknown},
		{"undelivered", &UndeliveredError{ContentID: "bafk", Err: ErrReadOnly}, ErrNotDelivered},
		{"undelivered unwraps", &UndeliveredError{ContentID: "bafk", Err: ErrReadOnly}, ErrReadOnly},
		{"decryption", &DecryptionError{Stage: StageUnwrap, Err: ErrKeyMismatch}, ErrDecryptionFailed},
		{"decryption unwraps", &DecryptionError{Stage: StageUnwrap, Err: ErrKeyMismatch}, ErrKeyMismatch},
		{"content unavailable", &ContentUnavailableError{ContentID: "bafk", Attempts: 3}, ErrContentUnavailable},
		{"directory 404", &APIError{StatusCode: 404, ResourceType: apierrors.ResourceIdentity}, ErrRecipientUnknown},
		{"directory 401", &APIError{StatusCode: 401}, ErrUnauthorized},
		{"directory 429", &APIError{StatusCode: 429}, ErrRateLimited},
		{"not authorized revert", &RevertError{Method: "updateEmailStatus", Reason: "Not authorized"}, ErrNotAuthorized},
		{"not a draft revert", &RevertError{Method: "updateDraft", Reason: "Email is not a draft"}, ErrNotDraft},
		{"wrapped", fmt.Errorf("send: %w", &RecipientError{Identity: "bob@x"}), ErrRecipientUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.target)
			}
		})
	}
}

func TestRecipientError_Message(t *testing.T) {
	err := &RecipientError{Identity: "bob@x", Err: ErrRecipientUnknown}
	if got, want := err.Error(), "Recipient bob@x not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDecryptionError_Message(t *testing.T) {
	err := &DecryptionError{Stage: StageFetch, Err: errors.New("gateway timeout")}
	if got, want := err.Error(), "decryption failed at fetch: gateway timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
