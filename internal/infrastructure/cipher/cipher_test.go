package cipher_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcu-server/services/token-api/internal/infrastructure/cipher"
)

func testKey(t *testing.T) cipher.StaticKey {
	t.Helper()
	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return cipher.StaticKey(key)
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	c, err := cipher.New(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("vcu_3f8a2b9c-secret-credential")
	ciphertext, nonce, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.Len(t, nonce, 12)

	decrypted, err := c.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNew_RejectsWrongKeyLength(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		_, err := cipher.New(cipher.StaticKey(make([]byte, size)))
		assert.ErrorIs(t, err, cipher.ErrInvalidKeySize, "key size %d must be rejected", size)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	c, err := cipher.New(testKey(t))
	require.NoError(t, err)

	_, nonce1, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	_, nonce2, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(nonce1, nonce2), "nonces must differ across encryptions")
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	c, err := cipher.New(testKey(t))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	_, err = c.Decrypt(tampered, nonce)
	assert.Error(t, err)
}

func TestDecrypt_TamperedNonceFails(t *testing.T) {
	c, err := cipher.New(testKey(t))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte(nil), nonce...)
	tampered[0] ^= 0xff
	_, err = c.Decrypt(ciphertext, tampered)
	assert.Error(t, err)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	c1, err := cipher.New(testKey(t))
	require.NoError(t, err)
	c2, err := cipher.New(testKey(t))
	require.NoError(t, err)

	ciphertext, nonce, err := c1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = c2.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}
