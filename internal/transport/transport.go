package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Names of the inbound carriers. The body always carries tokens; cookies are optional.
const (
	AccessCookie       = "jwt"
	RefreshCookie      = "jwtRefresh"
	AccessQueryParam   = "token"
	RefreshQueryParam  = "_refreshToken"
	RefreshTokenHeader = "X-Refresh-Token"
)

// CookieOptions control the attributes of the cookies written by Transport.
type CookieOptions struct {
	Path       string
	Domain     string
	Secure     bool
	RefreshTTL time.Duration
}

// Transport reads tokens from requests and writes them into cookies.
type Transport struct {
	opts CookieOptions
}

func New(opts CookieOptions) *Transport {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Transport{opts: opts}
}

// AccessToken returns the inbound access token: Authorization Bearer header, then the
// `token` query parameter, then the `jwt` cookie. The first well-formed candidate wins.
func (t *Transport) AccessToken(c *gin.Context) string {
	if tok, ok := bearer(c.GetHeader("Authorization")); ok && wellFormed(tok) {
		return tok
	}
	if tok := c.Query(AccessQueryParam); wellFormed(tok) {
		return tok
	}
	if tok, err := c.Cookie(AccessCookie); err == nil && wellFormed(tok) {
		return tok
	}
	return ""
}

// RefreshToken returns the inbound refresh token: X-Refresh-Token header, then the
// `_refreshToken` query or form field, then the `jwtRefresh` cookie.
func (t *Transport) RefreshToken(c *gin.Context) string {
	if tok := strings.TrimSpace(c.GetHeader(RefreshTokenHeader)); wellFormed(tok) {
		return tok
	}
	if tok := c.Query(RefreshQueryParam); wellFormed(tok) {
		return tok
	}
	if tok := c.PostForm(RefreshQueryParam); wellFormed(tok) {
		return tok
	}
	if tok, err := c.Cookie(RefreshCookie); err == nil && wellFormed(tok) {
		return tok
	}
	return ""
}

// SetAccessCookie writes the access token cookie. Without rememberMe it is a browser-session cookie.
func (t *Transport) SetAccessCookie(c *gin.Context, token string, ttl time.Duration, rememberMe bool) {
	maxAge := 0
	if rememberMe {
		maxAge = int(ttl.Seconds())
	}
	t.set(c, AccessCookie, token, maxAge)
}

func (t *Transport) SetRefreshCookie(c *gin.Context, token string) {
	t.set(c, RefreshCookie, token, int(t.opts.RefreshTTL.Seconds()))
}

func (t *Transport) ClearAccessCookie(c *gin.Context)  { t.set(c, AccessCookie, "", -1) }
func (t *Transport) ClearRefreshCookie(c *gin.Context) { t.set(c, RefreshCookie, "", -1) }

func (t *Transport) set(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, t.opts.Path, t.opts.Domain, t.opts.Secure, true)
}

func bearer(h string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(h), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// wellFormed reports whether s looks like a compact JWS: three dot-separated segments.
func wellFormed(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	parts := strings.Split(s, ".")
	return len(parts) == 3 && parts[0] != "" && parts[1] != ""
}
