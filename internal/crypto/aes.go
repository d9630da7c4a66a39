package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// newGCM builds an AES-256-GCM AEAD after checking the key size.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SealAES encrypts plaintext with AES-256-GCM and returns the ciphertext and
// the 16-byte tag separately.
func SealAES(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	if len(nonce) != AESNonceSize {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - AESTagSize
	return sealed[:split], sealed[split:], nil
}

// OpenAES reverses SealAES. Any authentication failure is reported as
// ErrTamperedCiphertext.
func OpenAES(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}
	if len(tag) != AESTagSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidTagSize, len(tag), AESTagSize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTamperedCiphertext
	}
	return plaintext, nil
}

// randomBytes reads n bytes from the package random source.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("%w: read random: %v", ErrCryptoFailure, err)
	}
	return b, nil
}
