package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength       = 16
	ivLength         = 12
	pbkdf2Iterations = 1000
	keyLength        = 32
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Encryptor produces opaque, URL-safe representations of internal
// identifiers (file ids, photo ids) so they can be handed to the browser
// without exposing the raw value. Output layout: base64(salt || iv ||
// ciphertext+tag), with salt||iv authenticated as additional data.
type Encryptor struct {
	secret []byte
	salt   []byte
	key    []byte

	mu   sync.Mutex
	keys map[string][]byte // derived-key cache by salt
}

// NewEncryptor derives a fresh encryption key from secret with a random
// salt. Values encrypted by earlier instances remain decryptable because the
// salt is embedded in every ciphertext.
func NewEncryptor(secret string) (*Encryptor, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	e := &Encryptor{
		secret: []byte(secret),
		salt:   salt,
		keys:   make(map[string][]byte),
	}
	e.key = e.deriveKey(salt)
	return e, nil
}

func (e *Encryptor) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(e.secret, salt, pbkdf2Iterations, keyLength, sha256.New)
}

func (e *Encryptor) cachedKey(salt []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	cached, ok := e.keys[string(salt)]
	if !ok {
		cached = e.deriveKey(salt)
		e.keys[string(salt)] = cached
	}
	return cached
}

// Encrypt seals input under the instance key.
func (e *Encryptor) Encrypt(input string) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	aead, err := newGCM(e.key)
	if err != nil {
		return "", err
	}

	header := make([]byte, 0, saltLength+ivLength)
	header = append(header, e.salt...)
	header = append(header, iv...)

	sealed := aead.Seal(nil, iv, []byte(input), header)
	combined := append(header, sealed...)
	// URL-safe alphabet: the ciphertext travels as a path segment.
	return base64.RawURLEncoding.EncodeToString(combined), nil
}

// Decrypt reverses Encrypt, deriving the key from the embedded salt so
// ciphertexts from previous process lifetimes stay readable.
func (e *Encryptor) Decrypt(input string) (string, error) {
	combined, err := base64.RawURLEncoding.DecodeString(input)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	headerLength := saltLength + ivLength
	// minimum: header + GCM tag
	if len(combined) < headerLength+16 {
		return "", ErrInvalidCiphertext
	}

	header := combined[:headerLength]
	salt := combined[:saltLength]
	iv := combined[saltLength:headerLength]
	ciphertext := combined[headerLength:]

	aead, err := newGCM(e.cachedKey(salt))
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, iv, ciphertext, header)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return aead, nil
}
