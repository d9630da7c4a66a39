// Package crypto provides the cryptographic primitives for Bmail messages.
//
// # Algorithm Suite
//
//   - RSA-2048: per-identity key pair, exchanged as PEM. The public half is
//     published through the directory; the private half never leaves the
//     key store.
//
//   - RSA-OAEP with SHA-256: wraps the per-message content key. The same
//     padding is used for wrapping and unwrapping.
//
//   - AES-256-GCM: encrypts the message payload with a fresh key and 12-byte
//     IV for every message. The 16-byte tag is stored separately.
//
// # Envelopes
//
// Stored content is an [Envelope]. [EnvelopeV2] is the only format written.
// [EnvelopeV1] is the legacy direct-RSA format and is accepted for reading
// only. New envelopes carry an explicit version; [ParseEnvelope] falls back to
// recognizing the field set of untagged content.
//
// Decryption errors are classified: a content key that cannot be unwrapped
// means the message was addressed to a different key ([ErrKeyMismatch]); a
// tag that does not verify means the stored bytes were altered
// ([ErrTamperedCiphertext]).
//
// # Key Backups
//
// [Seal] and [Open] protect a private key under a passphrase with argon2id and
// XChaCha20-Poly1305. The key store uses a BIP-39 mnemonic as the passphrase.
//
// Keep private keys secure. They should never be logged; use
// [Fingerprint] to refer to a key in diagnostics.
package crypto
