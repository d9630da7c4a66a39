package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func marshalEnvelope(t *testing.T, env any) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kp, _ := testKeyPairs(t)

	want := &Payload{
		Subject:   "Hi",
		Body:      "Test message",
		Timestamp: 1700000000,
		Sender:    "alice@x",
	}

	env, err := Encrypt(want, kp.PublicKeyPEM)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if env.Version != EnvelopeVersionHybrid {
		t.Errorf("Version = %d, want %d", env.Version, EnvelopeVersionHybrid)
	}
	if env.Alg != HybridAlgorithm {
		t.Errorf("Alg = %q, want %q", env.Alg, HybridAlgorithm)
	}

	got, err := Decrypt(marshalEnvelope(t, env), kp.PrivateKeyPEM)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if *got != *want {
		t.Errorf("Decrypt() = %+v, want %+v", got, want)
	}
}

func TestEncrypt_FreshKeyPerMessage(t *testing.T) {
	kp, _ := testKeyPairs(t)
	p := &Payload{Subject: "same", Body: "same"}

	a, err := Encrypt(p, kp.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(p, kp.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}

	if a.IV == b.IV || a.WrappedKey == b.WrappedKey || a.Ciphertext == b.Ciphertext {
		t.Error("two encryptions of the same payload share key material")
	}
}

func TestDecrypt_KeyMismatch(t *testing.T) {
	a, b := testKeyPairs(t)

	env, err := Encrypt(&Payload{Subject: "for a"}, a.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decrypt(marshalEnvelope(t, env), b.PrivateKeyPEM)
	if !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("Decrypt() error = %v, want ErrKeyMismatch", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	kp, _ := testKeyPairs(t)

	flip := func(field string) string {
		b, err := DecodeBase64(field)
		if err != nil {
			t.Fatal(err)
		}
		b[0] ^= 0x01
		return ToBase64(b)
	}

	tests := []struct {
		name   string
		mutate func(env *EnvelopeV2)
	}{
		{"ciphertext", func(env *EnvelopeV2) { env.Ciphertext = flip(env.Ciphertext) }},
		{"authTag", func(env *EnvelopeV2) { env.AuthTag = flip(env.AuthTag) }},
		{"iv", func(env *EnvelopeV2) { env.IV = flip(env.IV) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Encrypt(&Payload{Subject: "s", Body: "b"}, kp.PublicKeyPEM)
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(env)

			_, err = Decrypt(marshalEnvelope(t, env), kp.PrivateKeyPEM)
			if !errors.Is(err, ErrTamperedCiphertext) {
				t.Errorf("Decrypt() error = %v, want ErrTamperedCiphertext", err)
			}
		})
	}
}

func TestDecrypt_MalformedFields(t *testing.T) {
	kp, _ := testKeyPairs(t)

	env, err := Encrypt(&Payload{Subject: "s"}, kp.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	env.IV = ToBase64([]byte("short"))

	_, err = Decrypt(marshalEnvelope(t, env), kp.PrivateKeyPEM)
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("Decrypt() error = %v, want ErrInvalidEnvelope", err)
	}
}

func TestEncrypt_RandomSourceFailure(t *testing.T) {
	kp, _ := testKeyPairs(t)

	restore := SetRandReaderForTesting(failingReader{})
	defer restore()

	_, err := Encrypt(&Payload{Subject: "s"}, kp.PublicKeyPEM)
	if !errors.Is(err, ErrCryptoFailure) {
		t.Errorf("Encrypt() error = %v, want ErrCryptoFailure", err)
	}
}

func TestEncrypt_InvalidPublicKey(t *testing.T) {
	_, err := Encrypt(&Payload{}, "not a key")
	if !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("Encrypt() error = %v, want ErrInvalidPEM", err)
	}
}

func encryptLegacy(t *testing.T, kp *KeyPair, plaintext []byte) string {
	t.Helper()
	pub, err := ParsePublicKey(kp.PublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return ToBase64(ct)
}

func TestDecrypt_Legacy(t *testing.T) {
	kp, other := testKeyPairs(t)

	payloadJSON := `{"subject":"old","body":"legacy body","timestamp":1600000000,"sender":"carol@x"}`
	wrapped := encryptLegacy(t, kp, []byte(payloadJSON))
	bareText := encryptLegacy(t, kp, []byte("just text"))

	tests := []struct {
		name     string
		raw      string
		wantBody string
	}{
		{"tagged", fmt.Sprintf(`{"version":1,"encryptedContent":%q}`, wrapped), "legacy body"},
		{"untagged object", fmt.Sprintf(`{"encryptedContent":%q}`, wrapped), "legacy body"},
		{"json string", fmt.Sprintf(`%q`, wrapped), "legacy body"},
		{"bare base64", wrapped, "legacy body"},
		{"proxy shape", fmt.Sprintf(`{"encrypted":true,"content":%q,"algorithm":"RSA-2048"}`, wrapped), "legacy body"},
		{"plain body", fmt.Sprintf(`{"encryptedContent":%q}`, bareText), "just text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decrypt([]byte(tt.raw), kp.PrivateKeyPEM)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", got.Body, tt.wantBody)
			}
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		_, err := Decrypt([]byte(wrapped), other.PrivateKeyPEM)
		if !errors.Is(err, ErrKeyMismatch) {
			t.Errorf("Decrypt() error = %v, want ErrKeyMismatch", err)
		}
	})

	// Padding that happens to check out under a wrong key leaves bytes
	// that are neither a payload nor text.
	t.Run("binary plaintext", func(t *testing.T) {
		garbage := encryptLegacy(t, kp, []byte{0xff, 0xfe, 0x00, 0x80, 0xc3, 0x28})
		got, err := Decrypt([]byte(garbage), kp.PrivateKeyPEM)
		if !errors.Is(err, ErrKeyMismatch) {
			t.Errorf("Decrypt() = %+v, %v; want ErrKeyMismatch", got, err)
		}
	})
}
