// Package memstore provides an in-memory token.Store used by unit tests and
// local development. It mirrors the postgres store's conditional-update
// semantics under a single mutex, so the quota and rate-window guarantees
// hold under concurrent callers here too.
package memstore

import (
	"context"
	"sync"
	"time"

	"vcu-server/services/token-api/internal/domain/token"
)

type Store struct {
	mu      sync.Mutex
	records map[string]*token.VCUToken
	clock   func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock builds a store with an injected clock for rate-window tests.
func NewWithClock(clock func() time.Time) *Store {
	return &Store{
		records: make(map[string]*token.VCUToken),
		clock:   clock,
	}
}

func (s *Store) Get(ctx context.Context, id string) (*token.VCUToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Put(ctx context.Context, record *token.VCUToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record.Clone()
	return nil
}

func (s *Store) IncrementUsage(ctx context.Context, id string) (*token.VCUToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	if rec.Status != token.StatusActive {
		return nil, token.ErrNotActive
	}
	if rec.UsageCount >= rec.Quota {
		return nil, token.ErrQuotaExceeded
	}

	now := s.clock()
	windowOpen := !rec.RateWindowStart.IsZero() && now.Before(rec.RateWindowStart.Add(rec.RateWindow))

	// Rate check comes strictly before the quota side effect: a rate-limited
	// call never burns quota.
	if windowOpen && rec.RateCount >= rec.RateLimit {
		return nil, token.ErrRateLimited
	}

	if windowOpen {
		rec.RateCount++
	} else {
		rec.RateWindowStart = now
		rec.RateCount = 1
	}
	rec.UsageCount++

	return rec.Clone(), nil
}

func (s *Store) StampRotated(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return token.ErrNotFound
	}
	stamp := at
	rec.LastRotatedAt = &stamp
	return nil
}

func (s *Store) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return token.ErrNotFound
	}
	rec.Status = token.StatusRevoked
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}
