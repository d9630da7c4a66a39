// Package keystore keeps each identity's RSA private key on the local machine
// and caches the public keys of correspondents.
//
// Private keys are written to a primary backend (bbolt) and to a fallback
// backend (a plain file map). Reads try the primary first. Failures of the
// primary are logged and counted but never returned to the caller; a key is
// reported missing only when no backend has it.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tyler-smith/go-bip39"
	"gopkg.in/op/go-logging.v1"

	"github.com/praveen5665/bmail/internal/apierrors"
	"github.com/praveen5665/bmail/internal/crypto"
	"github.com/praveen5665/bmail/internal/log"
	"github.com/praveen5665/bmail/internal/metrics"
)

// Fallback key layout, compatible with the browser client's local storage.
const (
	privateKeyPrefix = "bmail_private_key_"
	publicKeyPrefix  = "bmail_pubk_"
)

const (
	boltFile     = "keys.db"
	fallbackDir  = "localstore"
	boltTimeout  = time.Second
	mnemonicBits = 256
)

var (
	// ErrKeyNotFound is returned when no backend holds a private key for the identity.
	ErrKeyNotFound = apierrors.ErrKeyNotFound

	// ErrKeyExists is returned when generating a key for an identity that already has one.
	ErrKeyExists = errors.New("keystore: identity already has a private key")

	// ErrInvalidMnemonic is returned when a backup mnemonic fails its checksum.
	ErrInvalidMnemonic = errors.New("keystore: invalid mnemonic")
)

// PublicKeyResolver looks up a correspondent's public key. *api.Client
// implements it.
type PublicKeyResolver interface {
	LookupPublicKey(ctx context.Context, identity string) (string, error)
}

// Store is the key store.
type Store struct {
	primary  Backend
	fallback Backend
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithPrimary sets the primary backend.
func WithPrimary(b Backend) Option {
	return func(s *Store) {
		s.primary = b
	}
}

// WithFallback sets the fallback backend.
func WithFallback(b Backend) Option {
	return func(s *Store) {
		s.fallback = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store from explicit backends. Without a fallback, entries
// are kept in memory.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.fallback == nil {
		s.fallback = NewMemory()
	}
	if s.log == nil {
		s.log = log.Discard("keystore")
	}
	return s
}

// Open creates a store rooted at dataDir. If the bolt database cannot be
// opened the store runs on the fallback alone.
func Open(dataDir string, opts ...Option) (*Store, error) {
	fallback, err := OpenFile(filepath.Join(dataDir, fallbackDir))
	if err != nil {
		return nil, fmt.Errorf("keystore: open fallback: %w", err)
	}

	s := New(append([]Option{WithFallback(fallback)}, opts...)...)

	primary, err := OpenBolt(filepath.Join(dataDir, boltFile), boltTimeout)
	if err != nil {
		s.log.Warningf("Primary key store unavailable, using fallback only: %v", err)
		s.metrics.KeyStoreFallback("open")
		return s, nil
	}
	s.primary = primary
	return s, nil
}

// Close closes both backends.
func (s *Store) Close() error {
	var errs []error
	if s.primary != nil {
		errs = append(errs, s.primary.Close())
	}
	errs = append(errs, s.fallback.Close())
	return errors.Join(errs...)
}

// StorePrivateKey validates and saves a private key for identity.
func (s *Store) StorePrivateKey(ctx context.Context, identity, privateKeyPEM string) error {
	kp, err := crypto.KeyPairFromPrivatePEM(privateKeyPEM)
	if err != nil {
		return fmt.Errorf("keystore: %w", err)
	}

	var primaryErr error
	if s.primary != nil {
		primaryErr = s.primary.Put(ctx, identity, kp.PrivateKeyPEM)
		if primaryErr != nil {
			s.log.Warningf("Primary store rejected key %s for %s: %v", kp.Fingerprint(), identity, primaryErr)
			s.metrics.KeyStoreFallback("put")
		}
	} else {
		primaryErr = errors.New("no primary backend")
	}

	fallbackErr := s.fallback.Put(ctx, privateKeyPrefix+identity, kp.PrivateKeyPEM)
	if fallbackErr != nil {
		s.log.Warningf("Fallback store rejected key %s for %s: %v", kp.Fingerprint(), identity, fallbackErr)
	}

	if primaryErr != nil && fallbackErr != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrKeyStoreUnavailable, errors.Join(primaryErr, fallbackErr))
	}

	// Our own public key is what correspondents resolve us to.
	if err := s.CachePublicKey(ctx, identity, kp.PublicKeyPEM); err != nil {
		s.log.Debugf("Failed to cache own public key for %s: %v", identity, err)
	}

	s.log.Infof("Stored private key %s for %s", kp.Fingerprint(), identity)
	return nil
}

// PrivateKey returns the private key PEM for identity.
func (s *Store) PrivateKey(ctx context.Context, identity string) (string, error) {
	if s.primary != nil {
		v, err := s.primary.Get(ctx, identity)
		if err == nil && v != "" {
			return v, nil
		}
		if err != nil && !errors.Is(err, ErrNoEntry) {
			s.log.Warningf("Primary store read for %s failed: %v", identity, err)
		}
		s.metrics.KeyStoreFallback("get")
	}

	v, err := s.fallback.Get(ctx, privateKeyPrefix+identity)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, ErrNoEntry) {
		s.log.Warningf("Fallback store read for %s failed: %v", identity, err)
	}
	return "", fmt.Errorf("%w: %s", ErrKeyNotFound, identity)
}

// HasPrivateKey reports whether any backend holds a key for identity.
func (s *Store) HasPrivateKey(ctx context.Context, identity string) bool {
	_, err := s.PrivateKey(ctx, identity)
	return err == nil
}

// Generate creates and stores a new key pair for identity. An identity that
// already has a key is refused unless force is set.
func (s *Store) Generate(ctx context.Context, identity string, force bool) (*crypto.KeyPair, error) {
	if !force && s.HasPrivateKey(ctx, identity) {
		return nil, ErrKeyExists
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := s.StorePrivateKey(ctx, identity, kp.PrivateKeyPEM); err != nil {
		return nil, err
	}
	return kp, nil
}

// CachePublicKey records a correspondent's public key locally.
func (s *Store) CachePublicKey(ctx context.Context, identity, publicKeyPEM string) error {
	if _, err := crypto.ParsePublicKey(publicKeyPEM); err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	return s.fallback.Put(ctx, publicKeyPrefix+identity, publicKeyPEM)
}

// PublicKey returns identity's public key from the local cache, asking
// resolver and caching the answer on a miss.
func (s *Store) PublicKey(ctx context.Context, identity string, resolver PublicKeyResolver) (string, error) {
	if v, err := s.fallback.Get(ctx, publicKeyPrefix+identity); err == nil && v != "" {
		return v, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("%w: %s", apierrors.ErrRecipientUnknown, identity)
	}

	pem, err := resolver.LookupPublicKey(ctx, identity)
	if err != nil {
		return "", err
	}
	if err := s.CachePublicKey(ctx, identity, pem); err != nil {
		return "", err
	}
	return pem, nil
}

// Backup seals identity's private key under a fresh 24 word mnemonic. The
// mnemonic is the only way to open the returned blob.
func (s *Store) Backup(ctx context.Context, identity string) (mnemonic string, sealed []byte, err error) {
	pem, err := s.PrivateKey(ctx, identity)
	if err != nil {
		return "", nil, err
	}

	entropy, err := bip39.NewEntropy(mnemonicBits)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", apierrors.ErrCryptoFailure, err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", apierrors.ErrCryptoFailure, err)
	}

	sealed, err = crypto.Seal(mnemonic, []byte(pem))
	if err != nil {
		return "", nil, err
	}
	return mnemonic, sealed, nil
}

// OpenBackup opens a backup produced by Backup and returns the key pair it
// holds. Nothing is stored; pass the private key to StorePrivateKey once the
// caller has checked it.
func (s *Store) OpenBackup(mnemonic string, sealed []byte) (*crypto.KeyPair, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	pem, err := crypto.Open(mnemonic, sealed)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	kp, err := crypto.KeyPairFromPrivatePEM(string(pem))
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return kp, nil
}
