package bmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/praveen5665/bmail/internal/crypto"
)

// BackupVersion is the current key backup format version.
const BackupVersion = 1

// KeyBackup is a private key sealed under a BIP-39 mnemonic. The mnemonic
// is not part of the backup and must be kept separately.
type KeyBackup struct {
	// Version is the backup format version. MUST be 1.
	Version int `json:"version"`
	// Identity is the identity the key belongs to.
	Identity string `json:"identity"`
	// Fingerprint identifies the key pair without revealing it.
	Fingerprint string `json:"fingerprint"`
	// Sealed is the private key PEM sealed under the mnemonic.
	Sealed []byte `json:"sealed"`
	// ExportedAt is informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the backup is structurally usable.
func (b *KeyBackup) Validate() error {
	if b.Version != BackupVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidBackup, b.Version, BackupVersion)
	}
	if strings.TrimSpace(b.Identity) == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidBackup)
	}
	if !strings.HasPrefix(b.Fingerprint, "bm1") {
		return fmt.Errorf("%w: fingerprint %q is malformed", ErrInvalidBackup, b.Fingerprint)
	}
	if len(b.Sealed) == 0 {
		return fmt.Errorf("%w: sealed key is required", ErrInvalidBackup)
	}
	return nil
}

// Register creates the identity's key pair and stores the private key
// locally. The public key must then be published to the directory by the
// account service. An identity that already has a key fails with
// ErrKeyExists; keys are never rotated.
func (c *Client) Register(ctx context.Context) (*KeyPair, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	kp, err := c.keys.Generate(ctx, c.identity, false)
	if err != nil {
		return nil, err
	}
	c.forgetPrivateKey()
	c.log.Noticef("Registered key %s for %s", kp.Fingerprint(), c.identity)
	return kp, nil
}

// BackupKey seals the identity's private key under a fresh mnemonic.
func (c *Client) BackupKey(ctx context.Context) (string, *KeyBackup, error) {
	if err := c.checkClosed(); err != nil {
		return "", nil, err
	}
	pem, err := c.loadPrivateKey(ctx)
	if err != nil {
		return "", nil, err
	}
	kp, err := crypto.KeyPairFromPrivatePEM(pem)
	if err != nil {
		return "", nil, err
	}

	mnemonic, sealedKey, err := c.keys.Backup(ctx, c.identity)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, &KeyBackup{
		Version:     BackupVersion,
		Identity:    c.identity,
		Fingerprint: kp.Fingerprint(),
		Sealed:      sealedKey,
		ExportedAt:  c.now().UTC(),
	}, nil
}

// RestoreKey opens backup with mnemonic and stores the key, replacing any
// key the identity has locally. The backup must belong to this identity.
func (c *Client) RestoreKey(ctx context.Context, mnemonic string, backup *KeyBackup) (*KeyPair, error) {
	if backup == nil {
		return nil, fmt.Errorf("%w: backup is nil", ErrInvalidBackup)
	}
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := backup.Validate(); err != nil {
		return nil, err
	}
	if backup.Identity != c.identity {
		return nil, fmt.Errorf("%w: backup is for %s, not %s", ErrInvalidBackup, backup.Identity, c.identity)
	}

	kp, err := c.keys.OpenBackup(mnemonic, backup.Sealed)
	if err != nil {
		return nil, err
	}
	if fp := kp.Fingerprint(); fp != backup.Fingerprint {
		return nil, fmt.Errorf("%w: key %s does not match fingerprint %s", ErrInvalidBackup, fp, backup.Fingerprint)
	}
	if err := c.keys.StorePrivateKey(ctx, c.identity, kp.PrivateKeyPEM); err != nil {
		return nil, err
	}
	c.forgetPrivateKey()
	c.log.Noticef("Restored key %s for %s", kp.Fingerprint(), c.identity)
	return kp, nil
}

// ExportKeyToFile writes a key backup to a JSON file with secure
// permissions (0600) and returns the mnemonic that opens it.
func (c *Client) ExportKeyToFile(ctx context.Context, filePath string) (string, error) {
	mnemonic, backup, err := c.BackupKey(ctx)
	if err != nil {
		return "", err
	}

	jsonData, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal key backup: %w", err) //coverage:ignore
	}

	if err := os.WriteFile(filePath, jsonData, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return mnemonic, nil
}

// ImportKeyFromFile restores the key from a backup file written by
// ExportKeyToFile.
func (c *Client) ImportKeyFromFile(ctx context.Context, filePath, mnemonic string) (*KeyPair, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	jsonData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var backup KeyBackup
	if err := json.Unmarshal(jsonData, &backup); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return c.RestoreKey(ctx, mnemonic, &backup)
}
