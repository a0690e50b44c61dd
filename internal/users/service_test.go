package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogotex/jwtsession/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	*MemoryUserRepository
	lastUpsert *models.User
	upsertErr  error
}

func (f *fakeRepo) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	f.lastUpsert = u
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.MemoryUserRepository.UpsertBySub(ctx, u)
}

func newTestService() (*Service, *fakeRepo) {
	repo := &fakeRepo{MemoryUserRepository: NewMemoryUserRepository()}
	return NewService(repo).WithBcryptCost(bcrypt.MinCost), repo
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterForm{Email: " Alice@Example.com ", NewPassword: "correct-horse", Name: "Alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Len(t, u.AccessToken, 64)
	assert.NotEqual(t, []byte("correct-horse"), u.PasswordHash)

	got, err := svc.Authenticate(ctx, LoginForm{Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	byCred, err := svc.GetByAccessToken(ctx, u.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, byCred)
	assert.Equal(t, u.ID, byCred.ID)

	missing, err := svc.GetByAccessToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterForm{Email: "bob@example.com", NewPassword: "password123", Name: "Bob"})
	require.NoError(t, err)

	for _, form := range []LoginForm{
		{Email: "bob@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "password123"},
	} {
		_, err := svc.Authenticate(ctx, form)
		var verrs ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Equal(t, []string{badCredentials}, verrs["password"])
	}
}

func TestAuthenticate_ValidationMessagesUseJSONNames(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authenticate(context.Background(), LoginForm{Email: "not-an-email"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs, "email")
	assert.Contains(t, verrs, "password")
	assert.Contains(t, verrs.Error(), "validation failed")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	form := RegisterForm{Email: "dup@example.com", NewPassword: "password123", Name: "Dup"}
	_, err := svc.Register(ctx, form)
	require.NoError(t, err)

	_, err = svc.Register(ctx, form)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs, "email")
}

func TestRegister_ShortPassword(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register(context.Background(), RegisterForm{Email: "x@example.com", NewPassword: "short", Name: "X"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"Must be at least 8 characters"}, verrs["newPassword"])
}

func TestUpsertFromClaims(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	claims := map[string]interface{}{
		"sub":   "sub-123",
		"email": "x@example.com",
		"name":  "X User",
	}

	u, err := svc.UpsertFromClaims(ctx, claims)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "sub-123", u.OIDCSub)
	assert.Equal(t, "x@example.com", u.Email)
	assert.Equal(t, "X User", u.Name)
	assert.NotEmpty(t, u.ID)
	assert.NotEmpty(t, u.AccessToken)
	require.NotNil(t, repo.lastUpsert)
	assert.False(t, u.CreatedAt.After(u.UpdatedAt))

	// a second login keeps identity and credential, refreshes attributes
	time.Sleep(time.Millisecond)
	claims["name"] = "Renamed"
	u2, err := svc.UpsertFromClaims(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)
	assert.Equal(t, u.AccessToken, u2.AccessToken)
	assert.Equal(t, "Renamed", u2.Name)

	// missing sub => returns nil
	u3, err := svc.UpsertFromClaims(ctx, map[string]interface{}{"email": "y@e.com"})
	require.NoError(t, err)
	assert.Nil(t, u3)
}

func TestUpsertFromClaims_RepoError(t *testing.T) {
	svc, repo := newTestService()
	repo.upsertErr = errors.New("boom")
	_, err := svc.UpsertFromClaims(context.Background(), map[string]interface{}{"sub": "s"})
	require.Error(t, err)
}

func TestUpsertFromClaims_WithoutEmailDoNotCollide(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, err := svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "sub-a"})
	require.NoError(t, err)
	b, err := svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "sub-b"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Empty(t, b.Email)
}

func TestUpsertFromClaims_EmailOwnedByAnotherAccount(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterForm{Email: "taken@example.com", NewPassword: "password123", Name: "Local"})
	require.NoError(t, err)

	_, err = svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "sub-1", "email": "Taken@Example.com"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs, "email")

	// a federated user keeps its own address across logins
	_, err = svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "sub-2", "email": "own@example.com"})
	require.NoError(t, err)
	_, err = svc.UpsertFromClaims(ctx, map[string]interface{}{"sub": "sub-2", "email": "own@example.com", "name": "Again"})
	require.NoError(t, err)
}
