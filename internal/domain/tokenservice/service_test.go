package tokenservice_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcu-server/services/token-api/internal/domain/quota"
	"vcu-server/services/token-api/internal/domain/rotation"
	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/domain/tokenservice"
	"vcu-server/services/token-api/internal/infrastructure/cipher"
	"vcu-server/services/token-api/internal/infrastructure/memstore"
)

type fakeIssuer struct {
	value string
	err   error
}

func (f *fakeIssuer) IssueCredential(ctx context.Context, req rotation.IssueRequest) (*rotation.IssueResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rotation.IssueResult{Value: f.value}, nil
}

type fixture struct {
	store   *memstore.Store
	cipher  *cipher.Cipher
	issuer  *fakeIssuer
	service *tokenservice.Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := cipher.New(cipher.StaticKey(key))
	require.NoError(t, err)

	f := &fixture{cipher: c, now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return f.now }

	f.store = memstore.NewWithClock(clock)
	f.issuer = &fakeIssuer{value: "rotated-credential"}

	enforcer := quota.NewEnforcer(f.store, quota.Config{Clock: clock}, zerolog.Nop())
	rotator := rotation.NewManager(f.store, c, f.issuer, rotation.Config{Clock: clock}, zerolog.Nop())

	f.service = tokenservice.NewService(f.store, c, enforcer, rotator, tokenservice.Config{
		Defaults: tokenservice.Policy{
			Quota:      1000,
			RateLimit:  60,
			RateWindow: time.Minute,
			TTL:        24 * time.Hour,
		},
		Clock: clock,
	}, zerolog.Nop())

	return f
}

func TestStoreToken_NeverStoresPlaintext(t *testing.T) {
	f := newFixture(t)

	rec, err := f.service.StoreToken(context.Background(), "secret-value", "owner_1", tokenservice.Policy{
		Quota:     100,
		RateLimit: 10,
		TTL:       24 * time.Hour,
	})
	require.NoError(t, err)

	assert.NotEqual(t, []byte("secret-value"), rec.Ciphertext)
	assert.NotContains(t, string(rec.Ciphertext), "secret-value")
	assert.Equal(t, token.StatusActive, rec.Status)
	assert.Equal(t, f.now.Add(24*time.Hour), rec.ExpiresAt)

	stored, err := f.service.GetToken(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Ciphertext), "secret-value")
}

func TestStoreToken_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.StoreToken(context.Background(), "", "owner_1", tokenservice.Policy{})
	assert.ErrorIs(t, err, tokenservice.ErrEmptyValue)

	_, err = f.service.StoreToken(context.Background(), "value", "  ", tokenservice.Policy{})
	assert.ErrorIs(t, err, tokenservice.ErrEmptyOwner)
}

func TestStoreToken_AppliesDefaults(t *testing.T) {
	f := newFixture(t)

	rec, err := f.service.StoreToken(context.Background(), "value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.Quota)
	assert.Equal(t, int64(60), rec.RateLimit)
	assert.Equal(t, time.Minute, rec.RateWindow)
}

func TestGetToken_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetToken(context.Background(), "absent")
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestRevealToken_AuthorizedReadPath(t *testing.T) {
	f := newFixture(t)

	rec, err := f.service.StoreToken(context.Background(), "secret-value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	plaintext, err := f.service.RevealToken(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", plaintext)
}

func TestRevealToken_RefusesRevoked(t *testing.T) {
	f := newFixture(t)

	rec, err := f.service.StoreToken(context.Background(), "secret-value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	ok, err := f.service.RevokeToken(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.service.RevealToken(context.Background(), rec.ID)
	assert.Error(t, err)
}

func TestValidateToken_Reasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.service.ValidateToken(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, token.ReasonNotFound, v.Reason)

	rec, err := f.service.StoreToken(ctx, "value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	v, err = f.service.ValidateToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	// Expiry is lazy and authoritative even with status still active.
	f.now = f.now.Add(25 * time.Hour)
	v, err = f.service.ValidateToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, token.ReasonExpired, v.Reason)
}

func TestValidateToken_Revoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.StoreToken(ctx, "value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	ok, err := f.service.RevokeToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := f.service.ValidateToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, token.ReasonRevoked, v.Reason)

	// Revocation is terminal: no later operation brings the token back.
	res, err := f.service.RotateToken(ctx, rec.ID, 0)
	require.NoError(t, err)
	_ = res

	v, err = f.service.ValidateToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, token.ReasonRevoked, v.Reason)
}

func TestValidateToken_MalformedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A record missing required fields is invalid, never a crash.
	bad := &token.VCUToken{
		ID:        "tok_bad",
		Status:    token.StatusActive,
		ExpiresAt: f.now.Add(time.Hour),
	}
	require.NoError(t, f.store.Put(ctx, bad))

	v, err := f.service.ValidateToken(ctx, "tok_bad")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, token.ReasonInvalid, v.Reason)
}

func TestCheckQuota_Delegates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.StoreToken(ctx, "value", "owner_1", tokenservice.Policy{Quota: 2, RateLimit: 10})
	require.NoError(t, err)

	d, err := f.service.CheckQuota(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestRotateToken_NotFoundIsExplicitFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RotateToken(context.Background(), "absent", 0)
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestRotateToken_SuccessorAndAuditChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.StoreToken(ctx, "original", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	res, err := f.service.RotateToken(ctx, rec.ID, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEqual(t, rec.ID, res.NewRecord.ID)

	// Predecessor stays active but carries the rotation stamp.
	prior, err := f.service.GetToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, token.StatusActive, prior.Status)
	require.NotNil(t, prior.LastRotatedAt)

	// Successor carries the freshly issued value.
	plaintext, err := f.service.RevealToken(ctx, res.NewRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-credential", plaintext)
}

func TestRotateToken_ProviderFailureSurfacedVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.StoreToken(ctx, "original", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	f.issuer.err = errors.New("upstream 503")
	res, err := f.service.RotateToken(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.Greater(t, res.Backoff, time.Duration(0))

	after, err := f.service.GetToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Ciphertext, after.Ciphertext)
	assert.Equal(t, token.StatusActive, after.Status)
}

func TestRevokeToken_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RevokeToken(context.Background(), "absent")
	assert.ErrorIs(t, err, token.ErrNotFound)
}

// raceStore consumes one usage unit right after a read, standing in for a
// consume that lands between revocation's read and its status write.
type raceStore struct {
	*memstore.Store
	armed bool
}

func (s *raceStore) Get(ctx context.Context, id string) (*token.VCUToken, error) {
	rec, err := s.Store.Get(ctx, id)
	if err == nil && s.armed {
		s.armed = false
		if _, ierr := s.Store.IncrementUsage(ctx, id); ierr != nil {
			return nil, ierr
		}
	}
	return rec, err
}

func TestRevokeToken_PreservesUsageConsumedDuringRevocation(t *testing.T) {
	ctx := context.Background()

	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := cipher.New(cipher.StaticKey(key))
	require.NoError(t, err)

	store := &raceStore{Store: memstore.New()}
	enforcer := quota.NewEnforcer(store, quota.Config{}, zerolog.Nop())
	rotator := rotation.NewManager(store, c, &fakeIssuer{value: "v"}, rotation.Config{}, zerolog.Nop())
	service := tokenservice.NewService(store, c, enforcer, rotator, tokenservice.Config{
		Defaults: tokenservice.Policy{Quota: 10, RateLimit: 10, RateWindow: time.Minute, TTL: time.Hour},
	}, zerolog.Nop())

	rec, err := service.StoreToken(ctx, "value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	store.armed = true
	ok, err := service.RevokeToken(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	after, err := store.Store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, token.StatusRevoked, after.Status)
	assert.Equal(t, int64(1), after.UsageCount)
}

func TestRevokeToken_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.service.StoreToken(ctx, "value", "owner_1", tokenservice.Policy{})
	require.NoError(t, err)

	ok, err := f.service.RevokeToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.RevokeToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
