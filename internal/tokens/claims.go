package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens. It travels in the `typ` claim
// so one kind can never be accepted where the other is expected.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Payload is a claim set the Codec can sign and verify.
type Payload interface {
	jwt.Claims
	TokenKind() Kind
	stampKind()
	kindClaim() Kind
}

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	User       map[string]any `json:"user"`
	RememberMe bool           `json:"rememberMe"`
	JWTCookie  bool           `json:"jwtCookie"`
	Type       Kind           `json:"typ"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) TokenKind() Kind { return KindAccess }
func (c *AccessClaims) stampKind()      { c.Type = KindAccess }
func (c *AccessClaims) kindClaim() Kind { return c.Type }

// Expiry returns the expiry instant, or the zero time when the claim is absent.
func (c *AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// RefreshClaims is the payload of a refresh token. It carries no expiry.
// AccessTokenRef names the user's stable access credential, not an access token payload.
type RefreshClaims struct {
	AccessTokenRef string `json:"accessToken"`
	JWTCookie      bool   `json:"jwtCookie"`
	Epoch          int64  `json:"epoch,omitempty"`
	Type           Kind   `json:"typ"`
	jwt.RegisteredClaims
}

func (c *RefreshClaims) TokenKind() Kind { return KindRefresh }
func (c *RefreshClaims) stampKind()      { c.Type = KindRefresh }
func (c *RefreshClaims) kindClaim() Kind { return c.Type }

// AccessToken is an issued, signed access token together with the claims it was signed from.
type AccessToken struct {
	Raw    string
	Claims *AccessClaims
}

// RefreshToken is an issued, signed refresh token together with its claims.
type RefreshToken struct {
	Raw    string
	Claims *RefreshClaims
}
