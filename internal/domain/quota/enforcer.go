package quota

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vcu-server/services/token-api/internal/domain/token"
)

// Decision is the structured outcome of a consume attempt. Denials are not
// errors; infrastructure failures are.
type Decision struct {
	Allowed          bool            `json:"allowed"`
	Remaining        int64           `json:"remaining"`
	Reason           string          `json:"reason,omitempty"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
}

// Config configures the Enforcer.
type Config struct {
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Enforcer decides whether a unit of usage may proceed and consumes it. All
// contended state lives in the store's atomic increment; the enforcer itself
// holds nothing mutable.
type Enforcer struct {
	store  token.Store
	logger zerolog.Logger
	clock  func() time.Time
}

// NewEnforcer constructs a quota enforcer.
func NewEnforcer(store token.Store, cfg Config, logger zerolog.Logger) *Enforcer {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{
		store:  store,
		logger: logger.With().Str("component", "quota-enforcer").Logger(),
		clock:  clock,
	}
}

// CheckAndConsume consumes one unit of usage for the token if its quota and
// rate window permit. Quota exhaustion is a hard stop evaluated before any
// increment is attempted; the rate window is enforced by the store strictly
// before quota usage is burned.
func (e *Enforcer) CheckAndConsume(ctx context.Context, id string) (Decision, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Decision{Reason: token.ReasonNotFound}, nil
		}
		return Decision{}, err
	}

	now := e.clock()
	switch {
	case rec.ExpiredAt(now) || rec.Status == token.StatusExpired:
		// ExpiresAt is authoritative; a stale status write never wins.
		return Decision{Reason: token.ReasonExpired}, nil
	case rec.Status == token.StatusRevoked:
		return Decision{Reason: token.ReasonRevoked}, nil
	case rec.Status != token.StatusActive:
		return Decision{Reason: token.ReasonRevoked}, nil
	}

	if rec.UsageCount >= rec.Quota {
		return Decision{Reason: token.ReasonQuotaExceeded, Remaining: 0}, nil
	}

	updated, err := e.store.IncrementUsage(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRateLimited):
			return Decision{Reason: token.ReasonRateLimitExceeded, Remaining: rec.Quota - rec.UsageCount}, nil
		case errors.Is(err, token.ErrQuotaExceeded):
			// Lost the race for the last unit of quota.
			return Decision{Reason: token.ReasonQuotaExceeded, Remaining: 0}, nil
		case errors.Is(err, token.ErrNotFound):
			return Decision{Reason: token.ReasonNotFound}, nil
		case errors.Is(err, token.ErrNotActive):
			// Status left active between the read and the increment; only
			// revocation does that, expiry is evaluated lazily.
			return Decision{Reason: token.ReasonRevoked}, nil
		}
		return Decision{}, err
	}

	e.logger.Debug().
		Str("token_id", updated.ID).
		Int64("usage_count", updated.UsageCount).
		Int64("quota", updated.Quota).
		Msg("usage unit consumed")

	return Decision{
		Allowed:          true,
		Remaining:        updated.Quota - updated.UsageCount,
		EstimatedCostUSD: UnitCost(updated.Metadata["tier"]),
	}, nil
}
