package users

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gogotex/jwtsession/internal/models"
)

// MemoryUserRepository keeps users in process memory. Used in tests and when no Mongo URI is configured.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	byID  map[string]*models.User
	order []string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: map[string]*models.User{}}
}

func (r *MemoryUserRepository) Create(ctx context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	r.byID[u.ID] = &cp
	r.order = append(r.order, u.ID)
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id }), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *MemoryUserRepository) GetByAccessToken(ctx context.Context, credential string) (*models.User, error) {
	if credential == "" {
		return nil, nil
	}
	return r.find(func(u *models.User) bool { return u.AccessToken == credential }), nil
}

func (r *MemoryUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var match *models.User
	for _, existing := range r.byID {
		if existing.OIDCSub != "" && existing.OIDCSub == u.OIDCSub {
			match = existing
			break
		}
	}
	if u.Email != "" {
		for _, existing := range r.byID {
			if existing != match && strings.EqualFold(existing.Email, u.Email) {
				return nil, ErrEmailTaken
			}
		}
	}
	if match != nil {
		match.Email = u.Email
		match.Name = u.Name
		match.UpdatedAt = now
		cp := *match
		return &cp, nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	r.byID[u.ID] = &cp
	r.order = append(r.order, u.ID)
	out := cp
	return &out, nil
}

// Update replaces the stored record for u.ID. Used by tests to simulate profile edits.
func (r *MemoryUserRepository) Update(u *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return
	}
	cp := *u
	cp.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = &cp
}

func (r *MemoryUserRepository) find(match func(*models.User) bool) *models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if u := r.byID[id]; match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}
