package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vcu-server/services/token-api/internal/domain/token"
)

func validRecord() *token.VCUToken {
	now := time.Now()
	return &token.VCUToken{
		ID:         "tok_1",
		OwnerID:    "owner_1",
		Ciphertext: []byte{1, 2, 3},
		Nonce:      []byte{4, 5, 6},
		Status:     token.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		Quota:      10,
		RateLimit:  5,
		RateWindow: time.Minute,
	}
}

func TestExpiredAt(t *testing.T) {
	rec := validRecord()
	assert.False(t, rec.ExpiredAt(rec.ExpiresAt.Add(-time.Second)))
	assert.True(t, rec.ExpiredAt(rec.ExpiresAt), "expiry boundary is inclusive")
	assert.True(t, rec.ExpiredAt(rec.ExpiresAt.Add(time.Second)))
}

func TestMalformed(t *testing.T) {
	assert.False(t, validRecord().Malformed())

	mutations := map[string]func(*token.VCUToken){
		"missing id":         func(r *token.VCUToken) { r.ID = "" },
		"missing owner":      func(r *token.VCUToken) { r.OwnerID = "" },
		"missing ciphertext": func(r *token.VCUToken) { r.Ciphertext = nil },
		"missing nonce":      func(r *token.VCUToken) { r.Nonce = nil },
		"zero quota":         func(r *token.VCUToken) { r.Quota = 0 },
		"zero expiry":        func(r *token.VCUToken) { r.ExpiresAt = time.Time{} },
	}
	for name, mutate := range mutations {
		rec := validRecord()
		mutate(rec)
		assert.True(t, rec.Malformed(), name)
	}
}

func TestClone_NoAliasing(t *testing.T) {
	rec := validRecord()
	rec.Metadata = map[string]string{"tier": "pro"}

	clone := rec.Clone()
	clone.Ciphertext[0] = 99
	clone.Metadata["tier"] = "free"

	assert.Equal(t, byte(1), rec.Ciphertext[0])
	assert.Equal(t, "pro", rec.Metadata["tier"])
}
