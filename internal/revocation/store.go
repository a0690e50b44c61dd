package revocation

import (
	"context"
	"sync"
	"time"
)

// Store records revoked token ids and per-subject epochs.
//
// A refresh token carries the epoch of its subject at issuance; bumping the epoch
// invalidates every refresh token issued before the bump.
type Store interface {
	// Revoke marks jti as revoked until the given instant. A zero until revokes forever.
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Epoch(ctx context.Context, sub string) (int64, error)
	BumpEpoch(ctx context.Context, sub string) (int64, error)
}

// MemoryStore is an in-process Store. Useful for tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	epochs  map[string]int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revoked: map[string]time.Time{},
		epochs:  map[string]int64{},
		now:     time.Now,
	}
}

func (m *MemoryStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = until
	return nil
}

func (m *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && !m.now().Before(until) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Epoch(ctx context.Context, sub string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[sub], nil
}

func (m *MemoryStore) BumpEpoch(ctx context.Context, sub string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[sub]++
	return m.epochs[sub], nil
}
