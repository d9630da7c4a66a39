package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "status code only",
			err:      &APIError{StatusCode: 500},
			expected: "API error 500",
		},
		{
			name:     "with message",
			err:      &APIError{StatusCode: 400, Message: "bad request"},
			expected: "API error 400: bad request",
		},
		{
			name:     "with request ID",
			err:      &APIError{StatusCode: 500, RequestID: "req-123"},
			expected: "API error 500 (request_id: req-123)",
		},
		{
			name:     "with message and request ID",
			err:      &APIError{StatusCode: 503, Message: "service unavailable", RequestID: "req-456"},
			expected: "API error 503: service unavailable (request_id: req-456)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		target   error
		expected bool
	}{
		{"401 matches ErrUnauthorized", &APIError{StatusCode: 401}, ErrUnauthorized, true},
		{"403 matches ErrUnauthorized", &APIError{StatusCode: 403}, ErrUnauthorized, true},
		{"401 does not match ErrNotFound", &APIError{StatusCode: 401}, ErrNotFound, false},
		{"404 identity matches ErrRecipientUnknown", &APIError{StatusCode: 404, ResourceType: ResourceIdentity}, ErrRecipientUnknown, true},
		{"404 identity does not match ErrNotFound", &APIError{StatusCode: 404, ResourceType: ResourceIdentity}, ErrNotFound, false},
		{"404 content matches ErrContentUnavailable", &APIError{StatusCode: 404, ResourceType: ResourceContent}, ErrContentUnavailable, true},
		{"404 unknown matches ErrNotFound", &APIError{StatusCode: 404}, ErrNotFound, true},
		{"429 matches ErrRateLimited", &APIError{StatusCode: 429}, ErrRateLimited, true},
		{"500 matches nothing", &APIError{StatusCode: 500}, ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("errors.Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWithResourceType(t *testing.T) {
	if WithResourceType(nil, ResourceIdentity) != nil {
		t.Error("WithResourceType(nil) should return nil")
	}

	plain := errors.New("plain")
	if got := WithResourceType(plain, ResourceIdentity); got != plain {
		t.Errorf("WithResourceType(plain) = %v, want unchanged", got)
	}

	wrapped := fmt.Errorf("lookup: %w", &APIError{StatusCode: 404, Message: "no such user"})
	got := WithResourceType(wrapped, ResourceIdentity)
	if !errors.Is(got, ErrRecipientUnknown) {
		t.Errorf("WithResourceType() = %v, want match ErrRecipientUnknown", got)
	}
	var apiErr *APIError
	if !errors.As(got, &apiErr) || apiErr.Message != "no such user" {
		t.Errorf("WithResourceType() lost message: %v", got)
	}
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Err: inner, URL: "http://localhost", Attempt: 2}

	if err.Error() != "network error: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("NetworkError should unwrap to inner error")
	}
}

func TestDecryptionError(t *testing.T) {
	err := &DecryptionError{Stage: "unwrap", Err: ErrKeyMismatch}

	if !errors.Is(err, ErrDecryptionFailed) {
		t.Error("DecryptionError should match ErrDecryptionFailed")
	}
	if !errors.Is(err, ErrKeyMismatch) {
		t.Error("DecryptionError should unwrap to its cause")
	}
	if errors.Is(err, ErrTamperedCiphertext) {
		t.Error("DecryptionError should not match an unrelated cause")
	}

	msgOnly := &DecryptionError{Stage: "payload", Message: "empty body"}
	if msgOnly.Error() != "decryption failed at payload: empty body" {
		t.Errorf("Error() = %q", msgOnly.Error())
	}
}

func TestRecipientError(t *testing.T) {
	err := &RecipientError{Identity: "bob@x", Err: &APIError{StatusCode: 404}}

	if err.Error() != "Recipient bob@x not found" {
		t.Errorf("Error() = %q, want %q", err.Error(), "Recipient bob@x not found")
	}
	if !errors.Is(err, ErrRecipientUnknown) {
		t.Error("RecipientError should match ErrRecipientUnknown")
	}
}

func TestUndeliveredError(t *testing.T) {
	cause := &RevertError{Method: "sendEmail", Reason: "Invalid recipient address"}
	err := &UndeliveredError{ContentID: "bafy", Err: cause}

	if !errors.Is(err, ErrNotDelivered) {
		t.Error("UndeliveredError should match ErrNotDelivered")
	}
	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Error("UndeliveredError should unwrap to RevertError")
	}
}

func TestContentUnavailableError(t *testing.T) {
	last := errors.New("502 from dweb.link")
	err := &ContentUnavailableError{ContentID: "bafy", Attempts: 3, Err: last}

	if !errors.Is(err, ErrContentUnavailable) {
		t.Error("should match ErrContentUnavailable")
	}
	if !errors.Is(err, last) {
		t.Error("should unwrap to last gateway error")
	}
}

func TestRevertError_Is(t *testing.T) {
	tests := []struct {
		reason string
		target error
		want   bool
	}{
		{"Not authorized", ErrNotAuthorized, true},
		{"execution reverted: Not authorized", ErrNotAuthorized, true},
		{"Email does not exist", ErrNotFound, true},
		{"Not a draft", ErrNotDraft, true},
		{"Invalid recipient address", ErrNotAuthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := &RevertError{Method: "updateEmailStatus", Reason: tt.reason}
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%q, %v) = %v, want %v", tt.reason, tt.target, got, tt.want)
			}
		})
	}
}
