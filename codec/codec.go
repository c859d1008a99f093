// Package codec encrypts content at rest with AES-256-GCM.
//
// An encrypted blob is laid out as IV(12) || ciphertext || tag(16). No
// additional authenticated data is bound.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"github.com/vitwit/paygate/types"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length prepended to every blob.
	IVSize = 12
)

// Algorithm names the cipher in content metadata.
const Algorithm = types.EncryptionAlgorithm

// GenerateKey returns a fresh random content key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "generate key")
	}
	return key, nil
}

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key, types.KindValidation, types.ErrInvalidPayload)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "read iv")
	}

	return gcm.Seal(iv, iv, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure is a DecryptionError.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) <= IVSize {
		return nil, types.NewError(types.KindDecryption, types.ErrDecryptFailed,
			"encrypted blob too short: %d bytes", len(blob))
	}

	gcm, err := newGCM(key, types.KindDecryption, types.ErrDecryptFailed)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, blob[:IVSize], blob[IVSize:], nil)
	if err != nil {
		return nil, types.NewError(types.KindDecryption, types.ErrDecryptFailed,
			"decryption failed: wrong key or corrupted blob")
	}
	return plaintext, nil
}

// newGCM reports a bad key with kind and code so each caller keeps its own
// error class.
func newGCM(key []byte, kind types.ErrorKind, code string) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, types.NewError(kind, code, "key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, types.WrapError(err, kind, code, "init cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, types.WrapError(err, kind, code, "init gcm")
	}
	return gcm, nil
}

// EncodeKey renders a key for metadata and the key endpoint.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a base64 key in standard, raw or URL-safe alphabet.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(s)
		if err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, types.NewError(types.KindDecryption, types.ErrDecryptFailed, "key is not a base64 encoded %d-byte value", KeySize)
}

// Wipe zeroes a key buffer once it is no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
