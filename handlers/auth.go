package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/jwtsession/internal/auth"
	"github.com/gogotex/jwtsession/internal/transport"
	"github.com/gogotex/jwtsession/internal/users"
	"github.com/gogotex/jwtsession/pkg/logger"
)

// sessionFlags are read from every issuing request. Omitted flags default to true.
type sessionFlags struct {
	RememberMe *bool `json:"rememberMe" form:"rememberMe"`
	JWTCookie  *bool `json:"jwtCookie" form:"jwtCookie"`
}

func (f sessionFlags) values() (rememberMe, jwtCookie bool) {
	return boolOr(f.RememberMe, true), boolOr(f.JWTCookie, true)
}

// LoginRequest is the password login body.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	sessionFlags
}

// RegisterRequest is the sign-up body.
type RegisterRequest struct {
	Email       string `json:"email" form:"email"`
	NewPassword string `json:"newPassword" form:"newPassword"`
	Name        string `json:"name" form:"name"`
	sessionFlags
}

// IDTokenLoginRequest carries an ID token from the configured OpenID provider.
type IDTokenLoginRequest struct {
	IDToken string `json:"idToken" form:"idToken"`
	sessionFlags
}

// AuthHandler holds dependencies
type AuthHandler struct {
	svc *auth.Service
	tr  *transport.Transport
}

func NewAuthHandler(svc *auth.Service, tr *transport.Transport) *AuthHandler {
	return &AuthHandler{svc: svc, tr: tr}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg gin.IRouter) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/login/id-token", h.LoginWithIDToken)
	a.POST("/register", h.RegisterUser)
	a.POST("/logout", h.Logout)
	a.GET("/renew-token", h.RenewToken)
	a.POST("/renew-token", h.RenewToken)
	a.POST("/request-refresh-token", h.RequestRefreshToken)
	a.POST("/remove-refresh-token", h.RemoveRefreshToken)
	a.GET("/use-refresh-token", h.UseRefreshToken)
	a.POST("/use-refresh-token", h.UseRefreshToken)
	a.POST("/revoke-refresh-tokens", h.RevokeRefreshTokens)
	a.GET("/user", h.CurrentUser)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, &req) {
		return
	}
	rememberMe, jwtCookie := req.values()
	out, err := h.svc.Login(c.Request.Context(), users.LoginForm{Email: req.Email, Password: req.Password}, rememberMe, jwtCookie)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, out)
}

func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if !bind(c, &req) {
		return
	}
	rememberMe, jwtCookie := req.values()
	form := users.RegisterForm{Email: req.Email, NewPassword: req.NewPassword, Name: req.Name}
	out, err := h.svc.Register(c.Request.Context(), form, rememberMe, jwtCookie)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, out)
}

func (h *AuthHandler) LoginWithIDToken(c *gin.Context) {
	var req IDTokenLoginRequest
	if !bind(c, &req) {
		return
	}
	rememberMe, jwtCookie := req.values()
	out, err := h.svc.LoginWithIDToken(c.Request.Context(), req.IDToken, rememberMe, jwtCookie)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, out)
}

// Logout clears both cookies and, when a revocation store is configured, blacklists the
// presented tokens. Calling it without tokens still succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.svc.RevokeAccess(ctx, h.tr.AccessToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.svc.RevokeRefresh(ctx, h.tr.RefreshToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.tr.ClearAccessCookie(c)
	h.tr.ClearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RenewToken slides a valid access token forward, or falls back to the refresh token.
func (h *AuthHandler) RenewToken(c *gin.Context) {
	out, err := h.svc.RenewToken(c.Request.Context(), h.tr.AccessToken(c), h.tr.RefreshToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, out)
}

func (h *AuthHandler) UseRefreshToken(c *gin.Context) {
	out, err := h.svc.ExchangeRefreshToken(c.Request.Context(), h.tr.RefreshToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, out)
}

func (h *AuthHandler) RequestRefreshToken(c *gin.Context) {
	rt, err := h.svc.RequestRefreshToken(c.Request.Context(), h.tr.AccessToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if rt.Claims.JWTCookie {
		h.tr.SetRefreshCookie(c, rt.Raw)
	}
	c.JSON(http.StatusOK, gin.H{"success": rt.Raw})
}

// RemoveRefreshToken clears the refresh cookie. Without a revocation store the token
// itself stays usable by anyone still holding it.
func (h *AuthHandler) RemoveRefreshToken(c *gin.Context) {
	if err := h.svc.RevokeRefresh(c.Request.Context(), h.tr.RefreshToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.tr.ClearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) RevokeRefreshTokens(c *gin.Context) {
	epoch, err := h.svc.RevokeAllRefreshTokens(c.Request.Context(), h.tr.AccessToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.tr.ClearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": gin.H{"epoch": epoch}})
}

func (h *AuthHandler) CurrentUser(c *gin.Context) {
	u, err := h.svc.CurrentUser(c.Request.Context(), h.tr.AccessToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": u})
}

// respond writes the `{success:{user, token}}` body and, when the access token asks for it, the cookies.
func (h *AuthHandler) respond(c *gin.Context, out *auth.Output) {
	tok := gin.H{"jwt": out.Access.Raw}
	if out.Refresh != nil {
		tok["jwtRefresh"] = out.Refresh.Raw
	}
	if claims := out.Access.Claims; claims.JWTCookie {
		h.tr.SetAccessCookie(c, out.Access.Raw, h.svc.AccessTTL(), claims.RememberMe)
		if out.Refresh != nil {
			h.tr.SetRefreshCookie(c, out.Refresh.Raw)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": gin.H{"user": out.User, "token": tok}})
}

func (h *AuthHandler) fail(c *gin.Context, err error) {
	var verrs users.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": verrs})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, auth.ErrNoRevocationStore), errors.Is(err, auth.ErrFederationDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		logger.Error("auth request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// bind decodes the JSON or form body into v. An empty body is accepted.
func bind(c *gin.Context, v any) bool {
	if c.Request.Method == http.MethodGet {
		return true
	}
	if err := c.ShouldBind(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
