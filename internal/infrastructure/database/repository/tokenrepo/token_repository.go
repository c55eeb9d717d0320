package tokenrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/infrastructure/database/dbschema"
	"vcu-server/services/token-api/internal/utils/platformerrors"
)

// incrementUsageSQL is the single conditional update backing IncrementUsage.
// Both the quota headroom check and the rate-window check live in the WHERE
// clause, so two concurrent callers can never both observe the same
// pre-increment counters and a rate-limited call never burns quota.
const incrementUsageSQL = `
UPDATE token_api.vcu_tokens
SET usage_count = usage_count + 1,
    rate_count = CASE
        WHEN rate_window_start IS NULL OR ? >= rate_window_start + make_interval(secs => rate_window_seconds)
        THEN 1 ELSE rate_count + 1 END,
    rate_window_start = CASE
        WHEN rate_window_start IS NULL OR ? >= rate_window_start + make_interval(secs => rate_window_seconds)
        THEN ?::timestamptz ELSE rate_window_start END,
    updated_at = ?
WHERE id = ?
  AND status = 'active'
  AND usage_count < quota
  AND (rate_count < rate_limit
       OR rate_window_start IS NULL
       OR ? >= rate_window_start + make_interval(secs => rate_window_seconds))
`

type Repository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewTokenRepository(db *gorm.DB) token.Store {
	return &Repository{db: db, clock: time.Now}
}

func (r *Repository) Get(ctx context.Context, id string) (*token.VCUToken, error) {
	var model dbschema.VCUToken
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, token.ErrNotFound
		}
		return nil, platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, err, "failed to fetch token")
	}
	return model.EtoD(), nil
}

func (r *Repository) Put(ctx context.Context, record *token.VCUToken) error {
	model := dbschema.FromDomain(record)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, err, "failed to store token")
	}
	return nil
}

func (r *Repository) IncrementUsage(ctx context.Context, id string) (*token.VCUToken, error) {
	now := r.clock().UTC()
	result := r.db.WithContext(ctx).Exec(incrementUsageSQL, now, now, now, now, id, now)
	if result.Error != nil {
		return nil, platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, result.Error, "failed to increment token usage")
	}

	if result.RowsAffected == 1 {
		return r.Get(ctx, id)
	}

	// Nothing matched: fetch the record to tell the caller which guard held.
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Status != token.StatusActive:
		return nil, token.ErrNotActive
	case rec.UsageCount >= rec.Quota:
		return nil, token.ErrQuotaExceeded
	default:
		return nil, token.ErrRateLimited
	}
}

func (r *Repository) StampRotated(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&dbschema.VCUToken{}).
		Where("id = ?", id).
		Update("last_rotated_at", at)
	if result.Error != nil {
		return platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, result.Error, "failed to stamp rotated token")
	}
	if result.RowsAffected == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (r *Repository) Revoke(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&dbschema.VCUToken{}).
		Where("id = ?", id).
		Update("status", string(token.StatusRevoked))
	if result.Error != nil {
		return platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, result.Error, "failed to revoke token")
	}
	if result.RowsAffected == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&dbschema.VCUToken{}, "id = ?", id)
	if result.Error != nil {
		return false, platformerrors.AsTypedError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, result.Error, "failed to delete token")
	}
	return result.RowsAffected > 0, nil
}
