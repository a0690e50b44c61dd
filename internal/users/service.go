package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gogotex/jwtsession/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const badCredentials = "Incorrect email or password"

// Service encapsulates user-related business logic
type Service struct {
	repo     UserRepository
	validate *validator.Validate
	cost     int
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r, validate: newValidator(), cost: bcrypt.DefaultCost}
}

// WithBcryptCost returns a copy of s hashing with cost. Tests use bcrypt.MinCost.
func (s *Service) WithBcryptCost(cost int) *Service {
	cp := *s
	cp.cost = cost
	return &cp
}

// Authenticate checks the credentials and returns the matching user.
// Unknown email and wrong password produce the same ValidationErrors.
func (s *Service) Authenticate(ctx context.Context, form LoginForm) (*models.User, error) {
	form.Email = normalizeEmail(form.Email)
	if err := validateForm(s.validate, form); err != nil {
		return nil, err
	}
	u, err := s.repo.GetByEmail(ctx, form.Email)
	if err != nil {
		return nil, err
	}
	if u == nil || len(u.PasswordHash) == 0 {
		return nil, ValidationErrors{"password": {badCredentials}}
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(form.Password)); err != nil {
		return nil, ValidationErrors{"password": {badCredentials}}
	}
	return u, nil
}

// Register creates a password user with a fresh stable access credential.
func (s *Service) Register(ctx context.Context, form RegisterForm) (*models.User, error) {
	form.Email = normalizeEmail(form.Email)
	form.Name = strings.TrimSpace(form.Name)
	if err := validateForm(s.validate, form); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(form.NewPassword), s.cost)
	if err != nil {
		return nil, err
	}
	cred, err := newAccessCredential()
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        form.Email,
		Name:         form.Name,
		PasswordHash: hash,
		AccessToken:  cred,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ValidationErrors{"email": {"This email address is already registered"}}
		}
		return nil, err
	}
	return u, nil
}

// UpsertFromClaims creates or updates a user using OIDC claims map
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return nil, nil
	}
	cred, err := newAccessCredential()
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:          uuid.NewString(),
		OIDCSub:     sub,
		Email:       normalizeEmail(email),
		Name:        name,
		AccessToken: cred,
	}
	out, err := s.repo.UpsertBySub(ctx, u)
	if errors.Is(err, ErrEmailTaken) {
		return nil, ValidationErrors{"email": {"This email address is already registered to another account"}}
	}
	return out, err
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByAccessToken resolves a user from the stable access credential a refresh token references.
func (s *Service) GetByAccessToken(ctx context.Context, credential string) (*models.User, error) {
	return s.repo.GetByAccessToken(ctx, credential)
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func newAccessCredential() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
