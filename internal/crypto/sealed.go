package crypto

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedBoxVersion = 1
	sealedBoxPrefix  = "BMAILKEY1\n"
	sealedSaltSize   = 16
	sealedKDF        = "argon2id"
	sealedKDFTime    = 2
	sealedKDFMemory  = 64 * 1024
	sealedKDFThreads = 1
)

// SealedBox is a passphrase protected blob, used for private key backups.
type SealedBox struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under a key derived from passphrase with argon2id,
// using XChaCha20-Poly1305.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt, err := randomBytes(sealedSaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}

	key := deriveSealKey(passphrase, salt, sealedKDFTime, sealedKDFMemory, sealedKDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	box := SealedBox{
		Version:     sealedBoxVersion,
		KDF:         sealedKDF,
		KDFTime:     sealedKDFTime,
		KDFMemoryKB: sealedKDFMemory,
		KDFThreads:  sealedKDFThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(box)
	if err != nil {
		return nil, err
	}
	return append([]byte(sealedBoxPrefix), raw...), nil
}

// Open reverses Seal.
func Open(passphrase string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), sealedBoxPrefix) {
		return nil, ErrSealedBoxInvalid
	}

	var box SealedBox
	if err := json.Unmarshal(data[len(sealedBoxPrefix):], &box); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedBoxInvalid, err)
	}
	if box.Version != sealedBoxVersion || box.KDF != sealedKDF || len(box.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSealedBoxInvalid
	}

	key := deriveSealKey(passphrase, box.Salt, box.KDFTime, box.KDFMemoryKB, box.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, ErrSealedBoxAuth
	}
	return plaintext, nil
}

func deriveSealKey(passphrase string, salt []byte, time, memoryKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memoryKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
