package crypto

import (
	"encoding/json"
	"fmt"
)

// Payload is the plaintext carried inside every envelope.
type Payload struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
}

// MarshalPayload serializes p with a fixed field order.
func MarshalPayload(p *Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	return json.Marshal(p)
}

// ParsePayload decodes decrypted bytes into a Payload.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}
