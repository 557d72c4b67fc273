// Package crypto implements the stateful token codec: AES-256-GCM authenticated
// encryption of short-lived, purpose-tagged payloads that travel through
// untrusted channels (OAuth state parameters, cross-device account-link tokens,
// credential-setup tokens). The scheme is fully stateless — nothing about an
// issued token is stored server-side — so every token embeds its own expiry and
// a purpose tag, and the only revocation mechanism is the deliberately short
// expiry window. AES-256-GCM is chosen because it provides both confidentiality
// and authenticated integrity: a tampered token fails decryption outright
// rather than decoding into attacker-controlled fields.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes, which would weaken PBKDF2 key derivation.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// TokenCipher seals and opens opaque byte payloads with AES-256-GCM.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher creates a cipher with a 32-byte key
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, key)
	return &TokenCipher{key: keyCopy}, nil
}

// DeriveTokenCipher creates a cipher by deriving a key from a passphrase
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000 // Secure default
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewTokenCipher(derivedKey)
}

// LabeledKey derives a 32-byte key from the deployment master secret and a
// per-use-case label by hashing "secret || NUL || label". Tokens minted for
// one purpose (say, Slack account linking) are thereby undecryptable by the
// codec of any other purpose even though the secret material is shared.
func LabeledKey(masterSecret, label string) []byte {
	h := sha256.New()
	h.Write([]byte(masterSecret))
	h.Write([]byte{0})
	h.Write([]byte(label))
	return h.Sum(nil)
}

// Seal encrypts plaintext and returns a base64url-encoded ciphertext
func (tc *TokenCipher) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}

	blockCipher, err := aes.NewCipher(tc.key)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64url-encoded ciphertext and returns the plaintext.
// Any integrity failure maps to a sentinel error; callers must treat all of
// them as "invalid token" without distinguishing.
func (tc *TokenCipher) Open(encodedCiphertext string) ([]byte, error) {
	if encodedCiphertext == "" {
		return nil, ErrCiphertextCorrupted
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return nil, ErrCiphertextCorrupted
	}

	blockCipher, err := aes.NewCipher(tc.key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return nil, ErrCiphertextCorrupted
	}

	nonce := ciphertext[:nonceLen]
	actualCiphertext := ciphertext[nonceLen:]

	plaintext, err := aead.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
