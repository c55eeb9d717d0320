// Package tokenservice is the public façade over the token lifecycle: it
// composes the cipher, store, quota enforcer and rotation manager and owns
// the token state machine. Callers (API gateway, billing, subscription
// logic) reach the core only through this package.
package tokenservice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vcu-server/services/token-api/internal/domain/quota"
	"vcu-server/services/token-api/internal/domain/rotation"
	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/infrastructure/cipher"
	"vcu-server/services/token-api/internal/infrastructure/metrics"
)

// ErrEmptyValue indicates a store attempt with no credential value.
var ErrEmptyValue = errors.New("token value is required")

// ErrEmptyOwner indicates a store attempt with no owner reference.
var ErrEmptyOwner = errors.New("owner id is required")

// Policy is the quota/rate/expiry policy applied to a token at creation.
// Zero fields fall back to the service defaults.
type Policy struct {
	Quota      int64
	RateLimit  int64
	RateWindow time.Duration
	TTL        time.Duration
}

// Validation is the structured outcome of ValidateToken.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Config configures the Service.
type Config struct {
	Defaults Policy
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Service orchestrates token lifecycle operations.
type Service struct {
	store    token.Store
	cipher   *cipher.Cipher
	enforcer *quota.Enforcer
	rotator  *rotation.Manager
	logger   zerolog.Logger
	defaults Policy
	clock    func() time.Time
}

// NewService constructs the token service façade.
func NewService(store token.Store, c *cipher.Cipher, enforcer *quota.Enforcer, rotator *rotation.Manager, cfg Config, logger zerolog.Logger) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    store,
		cipher:   c,
		enforcer: enforcer,
		rotator:  rotator,
		logger:   logger.With().Str("component", "token-service").Logger(),
		defaults: cfg.Defaults,
		clock:    clock,
	}
}

// StoreToken encrypts the supplied credential value and persists a new active
// record. The returned record carries ciphertext only; the plaintext is never
// available from storage operations after this call.
func (s *Service) StoreToken(ctx context.Context, plaintext, ownerID string, p Policy) (*token.VCUToken, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, ErrEmptyValue
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}

	p = s.applyDefaults(p)

	ciphertext, nonce, err := s.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rec := &token.VCUToken{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Status:     token.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.TTL),
		Quota:      p.Quota,
		RateLimit:  p.RateLimit,
		RateWindow: p.RateWindow,
	}

	if err := s.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.Inc()
	s.logger.Info().
		Str("token_id", rec.ID).
		Str("owner_id", ownerID).
		Int64("quota", rec.Quota).
		Msg("token stored")

	return rec, nil
}

// GetToken returns the record or token.ErrNotFound. The credential value
// stays encrypted; use RevealToken for the explicit authorized read path.
func (s *Service) GetToken(ctx context.Context, id string) (*token.VCUToken, error) {
	return s.store.Get(ctx, id)
}

// RevealToken decrypts the credential value for an authorized caller. This is
// the only path on which plaintext leaves the service, and only for tokens
// that would pass validation.
func (s *Service) RevealToken(ctx context.Context, id string) (string, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if v := s.validate(rec); !v.Valid {
		return "", token.ErrNotActive
	}

	plaintext, err := s.cipher.Decrypt(rec.Ciphertext, rec.Nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// ValidateToken reports whether the token is usable right now. Denials are
// structured outcomes; only infrastructure failures return an error.
func (s *Service) ValidateToken(ctx context.Context, id string) (Validation, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			metrics.RecordValidation(false, token.ReasonNotFound)
			return Validation{Reason: token.ReasonNotFound}, nil
		}
		return Validation{}, err
	}

	v := s.validate(rec)
	metrics.RecordValidation(v.Valid, v.Reason)
	return v, nil
}

func (s *Service) validate(rec *token.VCUToken) Validation {
	switch {
	case rec.Malformed():
		return Validation{Reason: token.ReasonInvalid}
	case rec.ExpiredAt(s.clock()) || rec.Status == token.StatusExpired:
		// ExpiresAt is authoritative; a stale status write never wins.
		return Validation{Reason: token.ReasonExpired}
	case rec.Status == token.StatusRevoked:
		return Validation{Reason: token.ReasonRevoked}
	case rec.Status != token.StatusActive:
		return Validation{Reason: token.ReasonInvalid}
	default:
		return Validation{Valid: true}
	}
}

// CheckQuota consumes one unit of usage if quota and rate window permit.
func (s *Service) CheckQuota(ctx context.Context, id string) (quota.Decision, error) {
	decision, err := s.enforcer.CheckAndConsume(ctx, id)
	if err != nil {
		return quota.Decision{}, err
	}
	metrics.RecordQuotaDecision(decision.Allowed, decision.Reason)
	return decision, nil
}

// RotateToken replaces the token's credential with a freshly issued one.
// Rotating an absent token is an explicit failure, not a structured denial.
// consecutiveFailures is the caller-tracked failed-attempt count used to
// shape the backoff hint; the rotation result is surfaced verbatim.
func (s *Service) RotateToken(ctx context.Context, id string, consecutiveFailures int) (rotation.Result, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return rotation.Result{}, err
	}

	result := s.rotator.Rotate(ctx, rec, consecutiveFailures)
	metrics.RecordRotation(result.Success)
	return result, nil
}

// RevokeToken flips the token to its terminal revoked status. Records are
// retained for audit; hard deletion stays an operator-level store concern.
// Revoking an already revoked token reports success.
func (s *Service) RevokeToken(ctx context.Context, id string) (bool, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if rec.Status == token.StatusRevoked {
		return true, nil
	}

	// Targeted status flip at the store; a full-record write here would
	// discard usage consumed between the read and the write.
	if err := s.store.Revoke(ctx, id); err != nil {
		return false, err
	}

	metrics.TokensRevokedTotal.Inc()
	s.logger.Info().Str("token_id", id).Msg("token revoked")
	return true, nil
}

func (s *Service) applyDefaults(p Policy) Policy {
	if p.Quota <= 0 {
		p.Quota = s.defaults.Quota
	}
	if p.RateLimit <= 0 {
		p.RateLimit = s.defaults.RateLimit
	}
	if p.RateWindow <= 0 {
		p.RateWindow = s.defaults.RateWindow
	}
	if p.TTL <= 0 {
		p.TTL = s.defaults.TTL
	}
	return p
}
