package token

import (
	"context"
	"errors"
	"time"
)

// Status is the stored lifecycle state of a VCU token. Expiry is additionally
// evaluated lazily from ExpiresAt at read time; a stale "active" status never
// outranks the clock.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Machine-readable denial reasons shared by validation and quota decisions.
const (
	ReasonNotFound          = "not found"
	ReasonExpired           = "expired"
	ReasonRevoked           = "revoked"
	ReasonInvalid           = "invalid"
	ReasonQuotaExceeded     = "quota exceeded"
	ReasonRateLimitExceeded = "rate limit exceeded"
)

// Sentinel errors surfaced by Store implementations. Storage unavailability
// is never mapped onto these; it propagates as an infrastructure error.
var (
	ErrNotFound      = errors.New("token not found")
	ErrQuotaExceeded = errors.New("token quota exceeded")
	ErrRateLimited   = errors.New("token rate limit exceeded")
	ErrNotActive     = errors.New("token not active")
)

// VCUToken is the persistent record for one compute-access credential. The
// credential value only ever exists here encrypted; Ciphertext and Nonce stay
// inside the store and cipher boundaries.
type VCUToken struct {
	ID            string
	OwnerID       string
	Ciphertext    []byte
	Nonce         []byte
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastRotatedAt *time.Time

	// Usage accounting. UsageCount only grows within a quota window; the rate
	// fields implement the shorter rolling window.
	UsageCount      int64
	Quota           int64
	RateLimit       int64
	RateWindow      time.Duration
	RateCount       int64
	RateWindowStart time.Time

	// Metadata is opaque to this core and must never carry secrets.
	Metadata map[string]string
}

// ExpiredAt reports whether the token is past its authoritative expiry at the
// given instant, regardless of the stored status.
func (t *VCUToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Malformed reports whether required fields are missing. Malformed records
// are treated as invalid rather than crashing callers.
func (t *VCUToken) Malformed() bool {
	return t.ID == "" ||
		t.OwnerID == "" ||
		len(t.Ciphertext) == 0 ||
		len(t.Nonce) == 0 ||
		t.Quota <= 0 ||
		t.ExpiresAt.IsZero()
}

// Clone returns a deep copy so store implementations never hand out aliased
// internal state.
func (t *VCUToken) Clone() *VCUToken {
	if t == nil {
		return nil
	}
	out := *t
	out.Ciphertext = append([]byte(nil), t.Ciphertext...)
	out.Nonce = append([]byte(nil), t.Nonce...)
	if t.LastRotatedAt != nil {
		at := *t.LastRotatedAt
		out.LastRotatedAt = &at
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Store defines durable storage for token records. Implementations own the
// atomicity of IncrementUsage: it must be a single storage-level conditional
// update so concurrent callers never lose an increment.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*VCUToken, error)

	// Put is a full upsert, used for creation and rotation.
	Put(ctx context.Context, record *VCUToken) error

	// IncrementUsage atomically consumes one unit of quota, enforcing the
	// rolling rate window before any quota usage is burned. It returns the
	// post-increment record, or ErrNotFound, ErrQuotaExceeded, ErrRateLimited
	// or ErrNotActive without having consumed anything.
	IncrementUsage(ctx context.Context, id string) (*VCUToken, error)

	// StampRotated sets LastRotatedAt and nothing else, or ErrNotFound. A
	// targeted update: concurrent counter or status writes are never
	// overwritten by it.
	StampRotated(ctx context.Context, id string, at time.Time) error

	// Revoke flips the record's status to revoked and nothing else, or
	// ErrNotFound. Revoking an already revoked record is a no-op.
	Revoke(ctx context.Context, id string) error

	// Delete hard-deletes the record, reporting whether it existed. Deleting
	// an absent id is not an error.
	Delete(ctx context.Context, id string) (bool, error)
}
