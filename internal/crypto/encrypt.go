package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Encrypt seals p for the holder of publicKeyPEM. A fresh AES-256 key and IV
// are drawn for every call; the key travels wrapped with RSA-OAEP-SHA256.
func Encrypt(p *Payload, publicKeyPEM string) (*EnvelopeV2, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	plaintext, err := MarshalPayload(p)
	if err != nil {
		return nil, err
	}

	key, err := randomBytes(AESKeySize)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(AESNonceSize)
	if err != nil {
		return nil, err
	}

	ciphertext, tag, err := SealAES(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), randReader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap content key: %v", ErrCryptoFailure, err)
	}

	return &EnvelopeV2{
		Version:    EnvelopeVersionHybrid,
		Alg:        HybridAlgorithm,
		WrappedKey: ToBase64(wrapped),
		IV:         ToBase64(iv),
		AuthTag:    ToBase64(tag),
		Ciphertext: ToBase64(ciphertext),
	}, nil
}
