package rotation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vcu-server/services/token-api/internal/domain/token"
)

// IssueRequest is the owner/policy descriptor sent to the external provider.
type IssueRequest struct {
	OwnerID   string        `json:"owner_id"`
	Quota     int64         `json:"quota"`
	RateLimit int64         `json:"rate_limit"`
	TTL       time.Duration `json:"-"`
}

// IssueResult is a freshly issued credential value from the provider.
type IssueResult struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer is the narrow boundary to the external VCU provider. It is treated
// as unreliable: timeouts, rate limits and 5xx all surface as errors.
type Issuer interface {
	IssueCredential(ctx context.Context, req IssueRequest) (*IssueResult, error)
}

// Encryptor seals the fresh credential value before it reaches storage.
type Encryptor interface {
	Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error)
}

// BackoffPolicy shapes the retry delay hint returned after provider failures.
type BackoffPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff is the policy from the service configuration defaults.
var DefaultBackoff = BackoffPolicy{
	Base:   500 * time.Millisecond,
	Cap:    30 * time.Second,
	Jitter: 0.2,
}

// Result is the structured outcome of a rotation attempt. On failure, Backoff
// is the delay the caller should honor before retrying; the manager never
// sleeps and never retries on its own.
type Result struct {
	Success   bool
	NewRecord *token.VCUToken
	Err       error
	Backoff   time.Duration
}

// Config configures the Manager.
type Config struct {
	Backoff BackoffPolicy
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Manager drives token renewal against the external provider. It is
// stateless: one provider attempt per call, storage written only on confirmed
// success, retry orchestration owned entirely by the caller.
type Manager struct {
	store     token.Store
	encryptor Encryptor
	issuer    Issuer
	policy    BackoffPolicy
	logger    zerolog.Logger
	clock     func() time.Time
}

// NewManager constructs a rotation manager.
func NewManager(store token.Store, encryptor Encryptor, issuer Issuer, cfg Config, logger zerolog.Logger) *Manager {
	policy := cfg.Backoff
	if policy.Base <= 0 {
		policy = DefaultBackoff
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:     store,
		encryptor: encryptor,
		issuer:    issuer,
		policy:    policy,
		logger:    logger.With().Str("component", "rotation-manager").Logger(),
		clock:     clock,
	}
}

// Rotate obtains a fresh credential for the record's owner and policy and
// persists it as a new record. consecutiveFailures is the caller-tracked
// count of failed attempts so far; it only shapes the backoff hint.
//
// The prior record keeps its active status; LastRotatedAt marks it
// superseded. Revoking the predecessor is the caller's decision so in-flight
// requests using it do not fail mid-call.
func (m *Manager) Rotate(ctx context.Context, rec *token.VCUToken, consecutiveFailures int) Result {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	issued, err := m.issuer.IssueCredential(ctx, IssueRequest{
		OwnerID:   rec.OwnerID,
		Quota:     rec.Quota,
		RateLimit: rec.RateLimit,
		TTL:       ttl,
	})
	if err != nil {
		// Cancellation and timeouts land here too; storage stays untouched.
		delay := m.backoffFor(consecutiveFailures)
		m.logger.Warn().
			Err(err).
			Str("token_id", rec.ID).
			Dur("backoff", delay).
			Int("consecutive_failures", consecutiveFailures).
			Msg("provider call failed, rotation deferred")
		return Result{Err: err, Backoff: delay}
	}

	ciphertext, nonce, err := m.encryptor.Encrypt([]byte(issued.Value))
	if err != nil {
		return Result{Err: err, Backoff: m.backoffFor(consecutiveFailures)}
	}

	now := m.clock()
	expiresAt := issued.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(ttl)
	}

	successor := &token.VCUToken{
		ID:         uuid.NewString(),
		OwnerID:    rec.OwnerID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Status:     token.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		Quota:      rec.Quota,
		RateLimit:  rec.RateLimit,
		RateWindow: rec.RateWindow,
		Metadata:   rec.Clone().Metadata,
	}

	if err := m.store.Put(ctx, successor); err != nil {
		return Result{Err: err, Backoff: m.backoffFor(consecutiveFailures)}
	}

	// Targeted stamp only. The record read before the provider call is stale
	// by now; a full upsert would roll back usage consumed or a revocation
	// that landed during the round trip.
	if err := m.store.StampRotated(ctx, rec.ID, now); err != nil {
		// The successor is already authoritative; only the audit stamp on the
		// old record is missing.
		m.logger.Error().Err(err).Str("token_id", rec.ID).Msg("failed to stamp rotated predecessor")
	}

	m.logger.Info().
		Str("token_id", rec.ID).
		Str("successor_id", successor.ID).
		Msg("token rotated")

	return Result{Success: true, NewRecord: successor}
}

// backoffFor computes the exponential delay for the next retry: base 500ms
// doubling up to the cap, with randomization so many tokens failing at once
// do not retry in lockstep.
func (m *Manager) backoffFor(consecutiveFailures int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.policy.Base
	bo.RandomizationFactor = m.policy.Jitter
	bo.Multiplier = 2
	bo.MaxInterval = m.policy.Cap
	bo.MaxElapsedTime = 0

	delay := bo.NextBackOff()
	for i := 0; i < consecutiveFailures; i++ {
		delay = bo.NextBackOff()
	}
	if delay <= 0 {
		delay = m.policy.Base
	}
	return delay
}
