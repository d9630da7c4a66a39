package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"unicode/utf8"
)

// Decrypt parses stored content and decrypts it with the holder's private key.
//
// A hybrid envelope whose key cannot be unwrapped fails with ErrKeyMismatch.
// One whose ciphertext or tag fails authentication fails with ErrTamperedCiphertext.
func Decrypt(raw []byte, privateKeyPEM string) (*Payload, error) {
	priv, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	return DecryptEnvelope(env, priv)
}

// DecryptEnvelope decrypts an already parsed envelope.
func DecryptEnvelope(env Envelope, priv *rsa.PrivateKey) (*Payload, error) {
	switch e := env.(type) {
	case *EnvelopeV2:
		return decryptHybrid(e, priv)
	case *EnvelopeV1:
		return decryptLegacy(e, priv)
	default:
		return nil, fmt.Errorf("%w: unknown envelope type %T", ErrInvalidEnvelope, env)
	}
}

func decryptHybrid(env *EnvelopeV2, priv *rsa.PrivateKey) (*Payload, error) {
	wrapped, err := DecodeBase64(env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: wrappedKey: %v", ErrInvalidEnvelope, err)
	}
	iv, err := DecodeBase64(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrInvalidEnvelope, err)
	}
	tag, err := DecodeBase64(env.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: authTag: %v", ErrInvalidEnvelope, err)
	}
	ciphertext, err := DecodeBase64(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrInvalidEnvelope, err)
	}
	if len(iv) != AESNonceSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", ErrInvalidEnvelope, len(iv))
	}
	if len(tag) != AESTagSize {
		return nil, fmt.Errorf("%w: authTag is %d bytes", ErrInvalidEnvelope, len(tag))
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil || len(key) != AESKeySize {
		return nil, ErrKeyMismatch
	}

	plaintext, err := OpenAES(key, iv, ciphertext, tag)
	if err != nil {
		return nil, err
	}

	return ParsePayload(plaintext)
}

func decryptLegacy(env *EnvelopeV1, priv *rsa.PrivateKey) (*Payload, error) {
	ciphertext, err := DecodeBase64(env.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptedContent: %v", ErrInvalidEnvelope, err)
	}

	plaintext, err := rsa.DecryptPKCS1v15(nil, priv, ciphertext)
	if err != nil {
		return nil, ErrKeyMismatch
	}

	// Old clients sometimes encrypted the bare body text. A wrong key can
	// still pass the PKCS#1 padding check, and what it yields is not text.
	if p, err := ParsePayload(plaintext); err == nil {
		return p, nil
	}
	if !utf8.Valid(plaintext) {
		return nil, ErrKeyMismatch
	}
	return &Payload{Body: string(plaintext)}, nil
}
