package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is the access token lifetime used when none is configured.
const DefaultAccessTTL = 5 * time.Minute

// Issuer builds and signs access and refresh tokens.
type Issuer struct {
	codec     *Codec
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer returns an Issuer signing with codec. A non-positive accessTTL selects DefaultAccessTTL.
func NewIssuer(codec *Codec, accessTTL time.Duration, opts ...Option) *Issuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	o := buildOptions(opts)
	return &Issuer{codec: codec, accessTTL: accessTTL, now: o.now}
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken signs a fresh access token for the given user snapshot.
func (i *Issuer) IssueAccessToken(user map[string]any, rememberMe, jwtCookie bool) (*AccessToken, error) {
	sub, _ := user["id"].(string)
	if sub == "" {
		return nil, errors.New("tokens: user snapshot has no id")
	}
	now := i.now()
	claims := &AccessClaims{
		User:       copySnapshot(user),
		RememberMe: rememberMe,
		JWTCookie:  jwtCookie,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	raw, err := i.codec.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &AccessToken{Raw: raw, Claims: claims}, nil
}

// IssueRefreshToken signs a refresh token bound to userID and the user's stable access credential.
//
// Refresh tokens never expire. Containing a leaked one requires a revocation mechanism
// (revocation list or subject epoch); epoch is embedded for that purpose.
func (i *Issuer) IssueRefreshToken(userID, accessCredentialRef string, jwtCookie bool, epoch int64) (*RefreshToken, error) {
	if userID == "" || accessCredentialRef == "" {
		return nil, errors.New("tokens: refresh token needs a subject and an access credential")
	}
	claims := &RefreshClaims{
		AccessTokenRef: accessCredentialRef,
		JWTCookie:      jwtCookie,
		Epoch:          epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
	}
	raw, err := i.codec.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &RefreshToken{Raw: raw, Claims: claims}, nil
}

// Renew re-issues prev with a new expiry, keeping rememberMe and jwtCookie.
// user replaces the embedded snapshot; nil keeps the previous one.
// Renewal is only possible while prev has not expired.
func (i *Issuer) Renew(prev *AccessClaims, user map[string]any) (*AccessToken, error) {
	if prev == nil {
		return nil, newError(CodeMalformed, errors.New("no access token to renew"))
	}
	exp := prev.Expiry()
	if exp.IsZero() || !i.now().Before(exp) {
		return nil, newError(CodeExpired, errors.New("access token can no longer be renewed"))
	}
	if user == nil {
		user = prev.User
	}
	if id, _ := user["id"].(string); id != prev.Subject {
		return nil, newError(CodeInvalidClaims, errors.New("user snapshot does not match token subject"))
	}
	return i.IssueAccessToken(user, prev.RememberMe, prev.JWTCookie)
}

func copySnapshot(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
