// Package vault provides authenticated encryption of substitution maps.
//
// The map is serialized to canonical JSON (RFC 8785) and sealed with
// AES-256-GCM. The caller supplies the secret on every call; the vault
// derives the cipher key with HKDF-SHA256 and holds no key state between
// calls. A fresh random nonce is generated inside Seal, so nonce reuse under
// one key cannot happen by caller mistake.
//
// Open verifies the authentication tag before returning anything. Every
// failure mode — wrong key, flipped ciphertext byte, truncated payload —
// collapses into the single ErrDecryptionFailed so callers cannot tell
// which it was.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"

	"openanonymiser/internal/placeholder"
)

// ErrDecryptionFailed is returned for any open failure. It is intentionally
// uninformative: wrong key and corrupted ciphertext are indistinguishable.
var ErrDecryptionFailed = errors.New("decryption failed")

// aad binds every ciphertext to this application. A payload sealed by
// another tool with the same key will not open here.
var aad = []byte("openanonymiser")

// hkdfInfo namespaces the derived key.
var hkdfInfo = []byte("openanonymiser/substitution-map/v1")

// Payload is the encrypted form of a substitution map. It is the only
// artifact that ever crosses a persistence boundary.
type Payload struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Seal serializes m canonically and encrypts it under the given secret.
func Seal(m placeholder.Map, secret []byte) (Payload, error) {
	if len(secret) == 0 {
		return Payload{}, errors.New("vault: empty secret")
	}

	plain, err := canonicalBytes(m)
	if err != nil {
		return Payload{}, fmt.Errorf("vault: serialize map: %w", err)
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return Payload{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Payload{}, fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plain, aad)
	tagStart := len(sealed) - gcm.Overhead()
	return Payload{
		Nonce:      nonce,
		Ciphertext: sealed[:tagStart],
		Tag:        sealed[tagStart:],
	}, nil
}

// Open decrypts a payload and returns the substitution map it carries.
func Open(p Payload, secret []byte) (placeholder.Map, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	if len(p.Nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+len(p.Tag))
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.Tag...)

	plain, err := gcm.Open(nil, p.Nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	var m placeholder.Map
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, ErrDecryptionFailed
	}
	return m, nil
}

// Fingerprint returns the hex SHA-256 of the secret. It identifies which key
// sealed a payload without revealing the key; safe to embed and log.
func Fingerprint(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}

// newGCM derives a 32-byte key from the secret and builds the AEAD.
func newGCM(secret []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// canonicalBytes produces the RFC 8785 canonical JSON encoding of m, so that
// sealing the same map twice encrypts byte-identical plaintext.
func canonicalBytes(m placeholder.Map) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
