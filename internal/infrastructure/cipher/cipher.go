package cipher

import (
	"crypto/aes"
	aescipher "crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length: AES-256 only, no padding or truncation.
const KeySize = 32

// ErrInvalidKeySize is returned at construction when the provided key is not
// exactly 32 bytes.
var ErrInvalidKeySize = errors.New("cipher: key must be exactly 32 bytes")

// KeyProvider supplies the symmetric key. Production wiring injects the
// process configuration; tests inject StaticKey.
type KeyProvider interface {
	CipherKey() ([]byte, error)
}

// StaticKey is a fixed-bytes KeyProvider.
type StaticKey []byte

func (k StaticKey) CipherKey() ([]byte, error) {
	return k, nil
}

// Cipher encrypts and decrypts token values with AES-256-GCM. It has no
// knowledge of what the values mean.
type Cipher struct {
	aead aescipher.AEAD
}

// New validates the key and builds the AEAD once. Key problems surface here,
// at startup, never at first use.
func New(provider KeyProvider) (*Cipher, error) {
	key, err := provider.CipherKey()
	if err != nil {
		return nil, fmt.Errorf("cipher: load key: %w", err)
	}
	if subtle.ConstantTimeEq(int32(len(key)), KeySize) != 1 {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := aescipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce. The nonce is
// generated here so reuse with the same key is structurally impossible.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("cipher: generate nonce: %w", err)
	}

	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens the ciphertext. Any tampering with ciphertext or nonce fails
// the authentication check and returns an error, never garbage plaintext.
func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, errors.New("cipher: invalid nonce size")
	}

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cipher: decrypt: %w", err)
	}
	return plaintext, nil
}
