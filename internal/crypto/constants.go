package crypto

const (
	// RSAKeyBits is the modulus size of generated identity keys.
	RSAKeyBits = 2048

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// EnvelopeVersionLegacy tags direct RSA envelopes written by older clients.
	EnvelopeVersionLegacy = 1
	// EnvelopeVersionHybrid tags RSA-OAEP wrapped AES-256-GCM envelopes.
	EnvelopeVersionHybrid = 2

	// FingerprintPrefix prefixes every public key fingerprint.
	FingerprintPrefix = "bm1"

	pemTypePublic    = "PUBLIC KEY"
	pemTypeRSAPublic = "RSA PUBLIC KEY"
	pemTypePrivate   = "RSA PRIVATE KEY"
	pemTypePKCS8     = "PRIVATE KEY"
	legacyAlgorithm  = "RSA-2048"
)

// HybridAlgorithm is the algorithm label written into every hybrid envelope.
var HybridAlgorithm = "RSA-OAEP-256+A256GCM"
