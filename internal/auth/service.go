package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/jwtsession/internal/models"
	"github.com/gogotex/jwtsession/internal/revocation"
	"github.com/gogotex/jwtsession/internal/tokens"
	"github.com/gogotex/jwtsession/internal/users"
	"github.com/gogotex/jwtsession/pkg/logger"
	"github.com/gogotex/jwtsession/pkg/metrics"
)

var (
	// ErrInvalidToken is returned when no usable token could be found after every fallback.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevoked marks an access token whose id is on the revocation list.
	ErrRevoked = errors.New("token revoked")
	// ErrNoRevocationStore is returned by operations that need server-side revocation state.
	ErrNoRevocationStore = errors.New("no revocation store configured")
	// ErrFederationDisabled is returned by LoginWithIDToken when no ID token verifier is configured.
	ErrFederationDisabled = errors.New("federated login not configured")
)

// UserDirectory is the identity boundary: credential checks and user lookup.
type UserDirectory interface {
	Authenticate(ctx context.Context, form users.LoginForm) (*models.User, error)
	Register(ctx context.Context, form users.RegisterForm) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByAccessToken(ctx context.Context, credential string) (*models.User, error)
	UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error)
}

// IDTokenVerifier verifies third-party ID tokens for federated login.
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (map[string]interface{}, error)
}

// Output is the result of every operation that issues an access token.
// Refresh is nil unless a refresh token was minted by this call.
type Output struct {
	User    map[string]any
	Access  *tokens.AccessToken
	Refresh *tokens.RefreshToken
}

// Service implements login, logout, renewal and refresh-token exchange.
// It keeps no per-session state; the optional revocation store holds only revoked ids and epochs.
type Service struct {
	codec      *tokens.Codec
	issuer     *tokens.Issuer
	users      UserDirectory
	store      revocation.Store
	idVerifier IDTokenVerifier
}

type Option func(*Service)

// WithRevocationStore enables logout blacklisting, refresh revocation and epochs.
func WithRevocationStore(s revocation.Store) Option {
	return func(svc *Service) { svc.store = s }
}

func WithIDTokenVerifier(v IDTokenVerifier) Option {
	return func(svc *Service) { svc.idVerifier = v }
}

func NewService(codec *tokens.Codec, issuer *tokens.Issuer, dir UserDirectory, opts ...Option) *Service {
	s := &Service{codec: codec, issuer: issuer, users: dir}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AccessTTL is the lifetime of issued access tokens.
func (s *Service) AccessTTL() time.Duration { return s.issuer.AccessTTL() }

// HasRevocationStore reports whether server-side revocation is available.
func (s *Service) HasRevocationStore() bool { return s.store != nil }

func (s *Service) Login(ctx context.Context, form users.LoginForm, rememberMe, jwtCookie bool) (*Output, error) {
	u, err := s.users.Authenticate(ctx, form)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, u, rememberMe, jwtCookie)
}

func (s *Service) Register(ctx context.Context, form users.RegisterForm, rememberMe, jwtCookie bool) (*Output, error) {
	u, err := s.users.Register(ctx, form)
	if err != nil {
		return nil, err
	}
	logger.Info("user registered", "sub", u.ID)
	return s.issue(ctx, u, rememberMe, jwtCookie)
}

// LoginWithIDToken signs in with an ID token from the configured OpenID provider.
func (s *Service) LoginWithIDToken(ctx context.Context, idToken string, rememberMe, jwtCookie bool) (*Output, error) {
	if s.idVerifier == nil {
		return nil, ErrFederationDisabled
	}
	claims, err := s.idVerifier.Verify(ctx, idToken)
	if err != nil {
		logger.Debug("id token rejected", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	u, err := s.users.UpsertFromClaims(ctx, claims)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidToken
	}
	return s.issue(ctx, u, rememberMe, jwtCookie)
}

// issue mints an access token, plus a refresh token when rememberMe is set.
func (s *Service) issue(ctx context.Context, u *models.User, rememberMe, jwtCookie bool) (*Output, error) {
	attrs := u.Attributes()
	at, err := s.issuer.IssueAccessToken(attrs, rememberMe, jwtCookie)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(string(tokens.KindAccess)).Inc()
	out := &Output{User: attrs, Access: at}
	if rememberMe {
		rt, err := s.mintRefresh(ctx, u, jwtCookie)
		if err != nil {
			return nil, err
		}
		out.Refresh = rt
	}
	return out, nil
}

func (s *Service) mintRefresh(ctx context.Context, u *models.User, jwtCookie bool) (*tokens.RefreshToken, error) {
	var epoch int64
	if s.store != nil {
		e, err := s.store.Epoch(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("read epoch: %w", err)
		}
		epoch = e
	}
	rt, err := s.issuer.IssueRefreshToken(u.ID, u.AccessToken, jwtCookie, epoch)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(string(tokens.KindRefresh)).Inc()
	return rt, nil
}

// Inspect classifies raw. The returned error is only set for revocation store failures.
func (s *Service) Inspect(ctx context.Context, raw string) (State, *tokens.AccessClaims, error) {
	if raw == "" {
		return StateNoToken, nil, nil
	}
	claims, err := s.codec.VerifyAccess(raw)
	if err != nil {
		metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindAccess), string(tokens.CodeOf(err))).Inc()
		if errors.Is(err, tokens.ErrExpired) {
			return StateExpired, nil, nil
		}
		logger.Debug("access token rejected", "err", err)
		return StateInvalid, nil, nil
	}
	if s.store != nil {
		revoked, err := s.store.IsRevoked(ctx, claims.ID)
		if err != nil {
			return StateInvalid, nil, fmt.Errorf("revocation lookup: %w", err)
		}
		if revoked {
			metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindAccess), "revoked").Inc()
			return StateInvalid, nil, nil
		}
	}
	return StateValid, claims, nil
}

// VerifyAccess checks raw for use on a protected route. Expiry stays distinguishable
// through tokens.ErrExpired; revoked tokens yield ErrRevoked.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (*tokens.AccessClaims, error) {
	claims, err := s.codec.VerifyAccess(raw)
	if err != nil {
		metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindAccess), string(tokens.CodeOf(err))).Inc()
		return nil, err
	}
	if s.store != nil {
		revoked, err := s.store.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("revocation lookup: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

// RenewToken prefers sliding renewal of a valid access token. With no access token, or an
// expired one, it falls back to the refresh token. An invalid access token is never rescued.
func (s *Service) RenewToken(ctx context.Context, rawAccess, rawRefresh string) (*Output, error) {
	state, claims, err := s.Inspect(ctx, rawAccess)
	if err != nil {
		return nil, err
	}
	switch state {
	case StateValid:
		u, err := s.users.GetByID(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrInvalidToken
		}
		attrs := u.Attributes()
		at, err := s.issuer.Renew(claims, attrs)
		if errors.Is(err, tokens.ErrExpired) {
			// expired between inspection and renewal
			break
		}
		if err != nil {
			return nil, err
		}
		metrics.TokensIssued.WithLabelValues(string(tokens.KindAccess)).Inc()
		metrics.TokenRenewals.WithLabelValues("sliding").Inc()
		return &Output{User: attrs, Access: at}, nil
	case StateInvalid:
		return nil, ErrInvalidToken
	}
	out, err := s.ExchangeRefreshToken(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	metrics.TokenRenewals.WithLabelValues("refresh").Inc()
	return out, nil
}

// ExchangeRefreshToken trades a refresh token for a new access token.
// The new token has rememberMe=false and the refresh token's jwtCookie; no refresh token is returned.
func (s *Service) ExchangeRefreshToken(ctx context.Context, rawRefresh string) (*Output, error) {
	out, err := s.exchange(ctx, rawRefresh)
	if err != nil {
		result := "rejected"
		if !errors.Is(err, ErrInvalidToken) {
			result = "error"
		}
		metrics.RefreshExchanges.WithLabelValues(result).Inc()
		return nil, err
	}
	metrics.RefreshExchanges.WithLabelValues("ok").Inc()
	return out, nil
}

func (s *Service) exchange(ctx context.Context, rawRefresh string) (*Output, error) {
	if rawRefresh == "" {
		return nil, ErrInvalidToken
	}
	rc, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindRefresh), string(tokens.CodeOf(err))).Inc()
		logger.Debug("refresh token rejected", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := s.checkRefreshRevocation(ctx, rc); err != nil {
		return nil, err
	}
	u, err := s.users.GetByAccessToken(ctx, rc.AccessTokenRef)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ID != rc.Subject {
		logger.Warn("refresh token does not match a user", "sub", rc.Subject, "jti", rc.ID)
		return nil, ErrInvalidToken
	}
	attrs := u.Attributes()
	at, err := s.issuer.IssueAccessToken(attrs, false, rc.JWTCookie)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(string(tokens.KindAccess)).Inc()
	return &Output{User: attrs, Access: at}, nil
}

func (s *Service) checkRefreshRevocation(ctx context.Context, rc *tokens.RefreshClaims) error {
	if s.store == nil {
		return nil
	}
	revoked, err := s.store.IsRevoked(ctx, rc.ID)
	if err != nil {
		return fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindRefresh), "revoked").Inc()
		return ErrInvalidToken
	}
	epoch, err := s.store.Epoch(ctx, rc.Subject)
	if err != nil {
		return fmt.Errorf("read epoch: %w", err)
	}
	if rc.Epoch < epoch {
		metrics.TokenVerifyFailures.WithLabelValues(string(tokens.KindRefresh), "stale_epoch").Inc()
		return ErrInvalidToken
	}
	return nil
}

// RequestRefreshToken mints a refresh token for the holder of a valid access token.
func (s *Service) RequestRefreshToken(ctx context.Context, rawAccess string) (*tokens.RefreshToken, error) {
	u, claims, err := s.validUser(ctx, rawAccess)
	if err != nil {
		return nil, err
	}
	return s.mintRefresh(ctx, u, claims.JWTCookie)
}

// CurrentUser returns the live attributes of the access token's user.
func (s *Service) CurrentUser(ctx context.Context, rawAccess string) (map[string]any, error) {
	u, _, err := s.validUser(ctx, rawAccess)
	if err != nil {
		return nil, err
	}
	return u.Attributes(), nil
}

// RevokeAccess blacklists an access token until its own expiry. Tokens that do not verify
// are ignored, so logout stays idempotent.
func (s *Service) RevokeAccess(ctx context.Context, rawAccess string) error {
	if s.store == nil || rawAccess == "" {
		return nil
	}
	claims, err := s.codec.VerifyAccess(rawAccess)
	if err != nil {
		return nil
	}
	return s.store.Revoke(ctx, claims.ID, claims.Expiry())
}

// RevokeRefresh blacklists a refresh token permanently. Without a store this is a no-op and
// the token keeps working wherever a client still holds it.
func (s *Service) RevokeRefresh(ctx context.Context, rawRefresh string) error {
	if s.store == nil || rawRefresh == "" {
		return nil
	}
	rc, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil
	}
	return s.store.Revoke(ctx, rc.ID, time.Time{})
}

// RevokeAllRefreshTokens invalidates every refresh token of the caller by bumping the subject epoch.
func (s *Service) RevokeAllRefreshTokens(ctx context.Context, rawAccess string) (int64, error) {
	if s.store == nil {
		return 0, ErrNoRevocationStore
	}
	state, claims, err := s.Inspect(ctx, rawAccess)
	if err != nil {
		return 0, err
	}
	if state != StateValid {
		return 0, ErrInvalidToken
	}
	epoch, err := s.store.BumpEpoch(ctx, claims.Subject)
	if err != nil {
		return 0, err
	}
	logger.Info("refresh tokens revoked", "sub", claims.Subject, "epoch", epoch)
	return epoch, nil
}

func (s *Service) validUser(ctx context.Context, rawAccess string) (*models.User, *tokens.AccessClaims, error) {
	state, claims, err := s.Inspect(ctx, rawAccess)
	if err != nil {
		return nil, nil, err
	}
	if state != StateValid {
		return nil, nil, ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, ErrInvalidToken
	}
	return u, claims, nil
}
