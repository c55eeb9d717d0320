package dbschema

import (
	"time"

	"gorm.io/datatypes"

	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(&VCUToken{})
}

// VCUToken represents persisted token state. The rate window length is stored
// in seconds so the conditional-update SQL can reason about it directly.
type VCUToken struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	OwnerID           string    `gorm:"type:varchar(64);not null;index"`
	Ciphertext        []byte    `gorm:"type:bytea;not null"`
	Nonce             []byte    `gorm:"type:bytea;not null"`
	Status            string    `gorm:"type:varchar(16);not null;index"`
	ExpiresAt         time.Time `gorm:"not null;index"`
	LastRotatedAt     *time.Time
	UsageCount        int64             `gorm:"not null;default:0"`
	Quota             int64             `gorm:"not null"`
	RateLimit         int64             `gorm:"not null"`
	RateWindowSeconds int64             `gorm:"not null"`
	RateCount         int64             `gorm:"not null;default:0"`
	RateWindowStart   *time.Time        `gorm:""`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EtoD converts schema model to domain representation.
func (t *VCUToken) EtoD() *token.VCUToken {
	if t == nil {
		return nil
	}
	rec := &token.VCUToken{
		ID:            t.ID,
		OwnerID:       t.OwnerID,
		Ciphertext:    t.Ciphertext,
		Nonce:         t.Nonce,
		Status:        token.Status(t.Status),
		CreatedAt:     t.CreatedAt,
		ExpiresAt:     t.ExpiresAt,
		LastRotatedAt: t.LastRotatedAt,
		UsageCount:    t.UsageCount,
		Quota:         t.Quota,
		RateLimit:     t.RateLimit,
		RateWindow:    time.Duration(t.RateWindowSeconds) * time.Second,
		RateCount:     t.RateCount,
	}
	if t.RateWindowStart != nil {
		rec.RateWindowStart = *t.RateWindowStart
	}
	if len(t.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			if s, ok := v.(string); ok {
				rec.Metadata[k] = s
			}
		}
	}
	return rec
}

// FromDomain converts domain model to schema representation.
func FromDomain(rec *token.VCUToken) *VCUToken {
	if rec == nil {
		return nil
	}
	model := &VCUToken{
		ID:                rec.ID,
		OwnerID:           rec.OwnerID,
		Ciphertext:        rec.Ciphertext,
		Nonce:             rec.Nonce,
		Status:            string(rec.Status),
		ExpiresAt:         rec.ExpiresAt,
		LastRotatedAt:     rec.LastRotatedAt,
		UsageCount:        rec.UsageCount,
		Quota:             rec.Quota,
		RateLimit:         rec.RateLimit,
		RateWindowSeconds: int64(rec.RateWindow / time.Second),
		RateCount:         rec.RateCount,
		CreatedAt:         rec.CreatedAt,
	}
	if !rec.RateWindowStart.IsZero() {
		start := rec.RateWindowStart
		model.RateWindowStart = &start
	}
	if len(rec.Metadata) > 0 {
		model.Metadata = make(datatypes.JSONMap, len(rec.Metadata))
		for k, v := range rec.Metadata {
			model.Metadata[k] = v
		}
	}
	return model
}
