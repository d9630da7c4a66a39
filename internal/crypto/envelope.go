package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the stored, encrypted form of a Payload. It is one of
// *EnvelopeV1 or *EnvelopeV2.
type Envelope interface {
	EnvelopeVersion() int
	envelope()
}

// EnvelopeV1 is the legacy format: the payload encrypted directly with the
// recipient's RSA key using PKCS#1 v1.5 padding. It is only ever read.
type EnvelopeV1 struct {
	Version          int    `json:"version,omitempty"`
	EncryptedContent string `json:"encryptedContent"`
}

// EnvelopeVersion returns EnvelopeVersionLegacy.
func (*EnvelopeV1) EnvelopeVersion() int { return EnvelopeVersionLegacy }
func (*EnvelopeV1) envelope()            {}

// EnvelopeV2 is the hybrid format. WrappedKey is the AES key encrypted with
// RSA-OAEP-SHA256; the remaining fields are the AES-256-GCM output. All binary
// fields are standard base64.
type EnvelopeV2 struct {
	Version    int    `json:"version"`
	Alg        string `json:"alg,omitempty"`
	WrappedKey string `json:"wrappedKey"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
}

// EnvelopeVersion returns EnvelopeVersionHybrid.
func (*EnvelopeV2) EnvelopeVersion() int { return EnvelopeVersionHybrid }
func (*EnvelopeV2) envelope()            {}

func (e *EnvelopeV2) complete() bool {
	return e.WrappedKey != "" && e.IV != "" && e.AuthTag != "" && e.Ciphertext != ""
}

// envelopeProbe holds every field any known envelope shape may carry.
type envelopeProbe struct {
	Version          *int            `json:"version"`
	Alg              string          `json:"alg"`
	WrappedKey       string          `json:"wrappedKey"`
	IV               string          `json:"iv"`
	AuthTag          string          `json:"authTag"`
	Ciphertext       string          `json:"ciphertext"`
	EncryptedContent string          `json:"encryptedContent"`
	Encrypted        bool            `json:"encrypted"`
	Content          json.RawMessage `json:"content"`
	Algorithm        string          `json:"algorithm"`
}

// ParseEnvelope decodes stored bytes into an envelope. Tagged input is
// dispatched on its version field. Untagged input, written before envelopes
// were versioned, is recognized by its shape.
func ParseEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidEnvelope)
	}

	switch raw[0] {
	case '{':
		var probe envelopeProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		if probe.Version != nil {
			return parseTagged(*probe.Version, &probe)
		}
		return sniffUntagged(&probe)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return legacyFromString(s)
	default:
		return legacyFromString(string(raw))
	}
}

func parseTagged(version int, p *envelopeProbe) (Envelope, error) {
	switch version {
	case EnvelopeVersionHybrid:
		env := &EnvelopeV2{
			Version:    EnvelopeVersionHybrid,
			Alg:        p.Alg,
			WrappedKey: p.WrappedKey,
			IV:         p.IV,
			AuthTag:    p.AuthTag,
			Ciphertext: p.Ciphertext,
		}
		if !env.complete() {
			return nil, fmt.Errorf("%w: version 2 envelope is missing fields", ErrInvalidEnvelope)
		}
		if env.Alg != "" && env.Alg != HybridAlgorithm {
			return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidEnvelope, env.Alg)
		}
		return env, nil
	case EnvelopeVersionLegacy:
		if p.EncryptedContent == "" {
			return nil, fmt.Errorf("%w: version 1 envelope has no content", ErrInvalidEnvelope)
		}
		return &EnvelopeV1{Version: EnvelopeVersionLegacy, EncryptedContent: p.EncryptedContent}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, version)
	}
}

func sniffUntagged(p *envelopeProbe) (Envelope, error) {
	v2 := &EnvelopeV2{
		Version:    EnvelopeVersionHybrid,
		WrappedKey: p.WrappedKey,
		IV:         p.IV,
		AuthTag:    p.AuthTag,
		Ciphertext: p.Ciphertext,
	}
	if v2.complete() {
		return v2, nil
	}

	if p.EncryptedContent != "" {
		return &EnvelopeV1{EncryptedContent: p.EncryptedContent}, nil
	}

	// Shape produced by the old gateway proxy: {"encrypted":true,"content":"...","algorithm":"RSA-2048"}.
	if p.Encrypted && len(p.Content) > 0 && (p.Algorithm == "" || p.Algorithm == legacyAlgorithm) {
		var s string
		if err := json.Unmarshal(p.Content, &s); err == nil && s != "" {
			return &EnvelopeV1{EncryptedContent: s}, nil
		}
	}

	return nil, fmt.Errorf("%w: unrecognized envelope shape", ErrInvalidEnvelope)
}

func legacyFromString(s string) (Envelope, error) {
	if _, err := DecodeBase64(s); err != nil || s == "" {
		return nil, fmt.Errorf("%w: content is neither JSON nor base64", ErrInvalidEnvelope)
	}
	return &EnvelopeV1{EncryptedContent: s}, nil
}
