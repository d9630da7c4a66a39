package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
)

// randReader is the random source used for key, content key and nonce generation.
// It can be overridden for testing.
var randReader io.Reader = rand.Reader

// KeyPair is an RSA-2048 identity key pair in PEM form.
type KeyPair struct {
	// PublicKeyPEM is the PKIX "PUBLIC KEY" block published through the directory.
	PublicKeyPEM string
	// PrivateKeyPEM is the PKCS#1 "RSA PRIVATE KEY" block kept in the key store.
	PrivateKeyPEM string
}

// GenerateKeyPair creates a new RSA-2048 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(randReader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate rsa key: %v", ErrCryptoFailure, err)
	}
	return keyPairFromPrivate(priv)
}

// KeyPairFromPrivatePEM rebuilds a key pair from its private half.
func KeyPairFromPrivatePEM(privatePEM string) (*KeyPair, error) {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	return keyPairFromPrivate(priv)
}

func keyPairFromPrivate(priv *rsa.PrivateKey) (*KeyPair, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyPair{
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER})),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
	}, nil
}

// Fingerprint identifies the key pair's public half.
func (kp *KeyPair) Fingerprint() string {
	fp, err := Fingerprint(kp.PublicKeyPEM)
	if err != nil {
		return ""
	}
	return fp
}

// Fingerprint returns a short printable identifier for a public key: the
// base58 encoded SHA-256 of its PKIX encoding.
func Fingerprint(publicPEM string) (string, error) {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return FingerprintPrefix + base58.Encode(sum[:]), nil
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(privatePEM)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPEM)
	}

	switch block.Type {
	case pemTypePrivate:
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return priv, nil
	case pemTypePKCS8:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPEM)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
}

// ParsePublicKey decodes a PKIX or PKCS#1 RSA public key.
func ParsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(publicPEM)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPEM)
	}

	switch block.Type {
	case pemTypePublic:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPEM)
		}
		return pub, nil
	case pemTypeRSAPublic:
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
}
