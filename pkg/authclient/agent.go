// Package authclient is the client side of the token session protocol: it attaches the
// access token to outgoing requests, recovers from 401 responses through a single
// refresh exchange per session, renews the access token ahead of expiry and sends the
// user to the login page when the session cannot be recovered.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gogotex/jwtsession/pkg/logger"
)

const (
	DefaultAccessTokenTTL = 5 * time.Minute
	DefaultRenewMargin    = time.Minute
	DefaultLoginPath      = "/login"

	refreshHeader = "X-Refresh-Token"
	maxErrorBody  = 64 << 10
)

var (
	// ErrSessionExpired is returned once the refresh chain failed and the user must log in again.
	ErrSessionExpired = errors.New("authclient: session expired, login required")

	errRefreshRejected = errors.New("authclient: refresh rejected")
)

// StatusError is a non-2xx response the agent does not recover from.
type StatusError struct {
	Code    int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authclient: unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authclient: unexpected status %d", e.Code)
}

// ValidationError carries the per-field messages of a 422 response.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msgs := range e.Fields {
		parts = append(parts, f+": "+strings.Join(msgs, ", "))
	}
	return "authclient: validation failed: " + strings.Join(parts, "; ")
}

// Navigator abstracts where the user currently is and how to send them elsewhere.
type Navigator interface {
	Location() string
	Redirect(path string)
}

type noopNavigator struct{}

func (noopNavigator) Location() string { return "" }
func (noopNavigator) Redirect(string)  {}

// Config configures an Agent. Only BaseURL is required.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	Storage        Storage
	Navigator      Navigator
	Notifier       func(error)
	AccessTokenTTL time.Duration
	RenewMargin    time.Duration
	LoginPath      string
}

// Agent is safe for concurrent use.
type Agent struct {
	base      *url.URL
	hc        *http.Client
	session   *Session
	nav       Navigator
	notify    func(error)
	ttl       time.Duration
	margin    time.Duration
	loginPath string

	flight singleflight.Group

	renewMu   sync.Mutex
	stopRenew context.CancelFunc
}

// User is the public user record returned by the server.
type User map[string]any

// Tokens is the token pair of an auth response; Refresh is empty when none was issued.
type Tokens struct {
	Access  string `json:"jwt"`
	Refresh string `json:"jwtRefresh,omitempty"`
}

// AuthResult is the decoded `{success:{user, token}}` body.
type AuthResult struct {
	User  User   `json:"user"`
	Token Tokens `json:"token"`
}

func New(cfg Config) (*Agent, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("authclient: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authclient: base url %q must be absolute", cfg.BaseURL)
	}
	a := &Agent{
		base:      base,
		hc:        cfg.HTTPClient,
		session:   NewSession(cfg.Storage),
		nav:       cfg.Navigator,
		notify:    cfg.Notifier,
		ttl:       cfg.AccessTokenTTL,
		margin:    cfg.RenewMargin,
		loginPath: cfg.LoginPath,
	}
	if a.hc == nil {
		a.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if a.nav == nil {
		a.nav = noopNavigator{}
	}
	if a.notify == nil {
		a.notify = func(err error) { logger.Warn("request failed", "err", err) }
	}
	if a.ttl <= 0 {
		a.ttl = DefaultAccessTokenTTL
	}
	if a.margin <= 0 {
		a.margin = DefaultRenewMargin
	}
	if a.loginPath == "" {
		a.loginPath = DefaultLoginPath
	}
	return a, nil
}

func (a *Agent) Session() *Session { return a.session }

// ReturnTo returns the location recorded when the session last expired and forgets it.
func (a *Agent) ReturnTo() string { return a.session.takeReturnTo() }

// Do sends req with the current access token. A 401 triggers one refresh exchange,
// shared with every other request failing at the same time, and the request is retried
// once with the new token. Other non-2xx responses come back as *StatusError and are
// passed to the Notifier. On success the caller owns the response body.
func (a *Agent) Do(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	access, gen := a.session.snapshot()
	resp, err := a.send(req, body, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return a.check(resp)
	}
	drain(resp)

	fresh, err := a.recoverAccess(req.Context(), access)
	if err != nil {
		if errors.Is(err, errRefreshRejected) {
			a.expire(gen)
			return nil, ErrSessionExpired
		}
		if !errors.Is(err, ErrSessionExpired) {
			a.notify(err)
		}
		return nil, err
	}
	resp, err = a.send(req, body, fresh)
	if err != nil {
		return nil, err
	}
	return a.check(resp)
}

// recoverAccess returns a usable access token after failedWith was rejected.
// When another request already replaced failedWith, its successor is used without a new exchange.
func (a *Agent) recoverAccess(ctx context.Context, failedWith string) (string, error) {
	if cur, _ := a.session.snapshot(); cur != "" && cur != failedWith {
		return cur, nil
	}
	v, err, _ := a.flight.Do(a.session.ID(), func() (any, error) {
		cur, gen := a.session.snapshot()
		if cur != "" && cur != failedWith {
			return cur, nil
		}
		refresh := a.session.RefreshToken()
		if refresh == "" {
			return "", errRefreshRejected
		}
		// the exchange outlives a cancelled caller so a pending logout can still observe it
		res, err := a.exchange(context.WithoutCancel(ctx), refresh)
		if err != nil {
			return "", err
		}
		return a.adopt(gen, res)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// adopt stores res if the session is still at generation gen.
func (a *Agent) adopt(gen uint64, res *AuthResult) (string, error) {
	ok, err := a.session.update(gen, res.Token.Access, res.Token.Refresh)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSessionExpired
	}
	return res.Token.Access, nil
}

// expire ends session generation gen, remembering where the user was, and redirects to
// the login page. Concurrent failures of one generation redirect only once.
func (a *Agent) expire(gen uint64) {
	if !a.session.end(gen, a.nav.Location()) {
		return
	}
	a.StopRenewal()
	logger.Info("session expired, redirecting to login", "session", a.session.ID())
	a.nav.Redirect(a.loginPath)
}

// exchange trades the refresh token for a new access token. Rejections by the server
// are reported as errRefreshRejected; transport and server errors are returned as is.
func (a *Agent) exchange(ctx context.Context, refresh string) (*AuthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url("/auth/use-refresh-token"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(refreshHeader, refresh)
	return a.authCall(req)
}

// authCall performs a call to one of the token endpoints, which never goes through 401 recovery.
func (a *Agent) authCall(req *http.Request) (*AuthResult, error) {
	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errRefreshRejected
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	var env struct {
		Success AuthResult `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("authclient: decode auth response: %w", err)
	}
	if env.Success.Token.Access == "" {
		return nil, errors.New("authclient: auth response carries no access token")
	}
	return &env.Success, nil
}

// Login authenticates with email and password and starts a new session.
// When an earlier session expired, the agent navigates back to where the user was.
func (a *Agent) Login(ctx context.Context, email, password string, rememberMe, jwtCookie bool) (*AuthResult, error) {
	return a.startSession(ctx, "/auth/login", map[string]any{
		"email":      email,
		"password":   password,
		"rememberMe": rememberMe,
		"jwtCookie":  jwtCookie,
	})
}

// Register creates an account and starts a session for it.
func (a *Agent) Register(ctx context.Context, email, password, name string, rememberMe, jwtCookie bool) (*AuthResult, error) {
	return a.startSession(ctx, "/auth/register", map[string]any{
		"email":       email,
		"newPassword": password,
		"name":        name,
		"rememberMe":  rememberMe,
		"jwtCookie":   jwtCookie,
	})
}

func (a *Agent) startSession(ctx context.Context, path string, form map[string]any) (*AuthResult, error) {
	b, err := json.Marshal(form)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(path), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := a.authCall(req)
	if errors.Is(err, errRefreshRejected) {
		err = &StatusError{Code: http.StatusUnauthorized, Message: "Invalid token"}
	}
	if err != nil {
		return nil, err
	}
	if err := a.session.start(res.Token.Access, res.Token.Refresh); err != nil {
		return nil, err
	}
	if to := a.session.takeReturnTo(); to != "" {
		a.nav.Redirect(to)
	}
	return res, nil
}

// Logout ends the session locally, then asks the server to clear cookies and revoke
// the tokens. A refresh still in flight resolves but its result is discarded.
func (a *Agent) Logout(ctx context.Context) error {
	access, refresh := a.session.AccessToken(), a.session.RefreshToken()
	a.session.clear()
	a.StopRenewal()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url("/auth/logout"), nil)
	if err != nil {
		return err
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if refresh != "" {
		req.Header.Set(refreshHeader, refresh)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return statusError(resp)
}

// Renew slides the access token forward, falling back to the stored refresh token on
// the server side. It shares the single-flight guard with 401 recovery.
func (a *Agent) Renew(ctx context.Context) error {
	access, gen := a.session.snapshot()
	_, err, _ := a.flight.Do(a.session.ID(), func() (any, error) {
		cur, curGen := a.session.snapshot()
		if curGen != gen || cur != access {
			return cur, nil
		}
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, a.url("/auth/renew-token"), nil)
		if err != nil {
			return "", err
		}
		if access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
		if refresh := a.session.RefreshToken(); refresh != "" {
			req.Header.Set(refreshHeader, refresh)
		}
		res, err := a.authCall(req)
		if err != nil {
			return "", err
		}
		return a.adopt(gen, res)
	})
	if errors.Is(err, errRefreshRejected) {
		a.expire(gen)
		return ErrSessionExpired
	}
	return err
}

// StartRenewal renews the access token every AccessTokenTTL minus RenewMargin until
// StopRenewal, Logout or the end of ctx. Calling it while running is a no-op.
func (a *Agent) StartRenewal(ctx context.Context) {
	a.renewMu.Lock()
	defer a.renewMu.Unlock()
	if a.stopRenew != nil {
		return
	}
	interval := a.ttl - a.margin
	if interval <= 0 {
		interval = a.ttl / 2
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stopRenew = cancel
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if a.session.AccessToken() == "" && a.session.RefreshToken() == "" {
					continue
				}
				if err := a.Renew(ctx); err != nil && !errors.Is(err, ErrSessionExpired) {
					logger.Warn("token renewal failed", "err", err)
				}
			}
		}
	}()
}

func (a *Agent) StopRenewal() {
	a.renewMu.Lock()
	defer a.renewMu.Unlock()
	if a.stopRenew != nil {
		a.stopRenew()
		a.stopRenew = nil
	}
}

// RequestRefreshToken asks the server for a refresh token for the current session and stores it.
func (a *Agent) RequestRefreshToken(ctx context.Context) (string, error) {
	_, gen := a.session.snapshot()
	var refresh string
	if err := a.PostJSON(ctx, "/auth/request-refresh-token", nil, &refresh); err != nil {
		return "", err
	}
	ok, err := a.session.setRefresh(gen, refresh)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSessionExpired
	}
	return refresh, nil
}

// RemoveRefreshToken revokes the stored refresh token on the server and forgets it.
func (a *Agent) RemoveRefreshToken(ctx context.Context) error {
	refresh := a.session.RefreshToken()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url("/auth/remove-refresh-token"), nil)
	if err != nil {
		return err
	}
	if refresh != "" {
		req.Header.Set(refreshHeader, refresh)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := statusError(resp); err != nil {
		return err
	}
	return a.session.clearRefresh()
}

// CurrentUser returns the user record of the current session.
func (a *Agent) CurrentUser(ctx context.Context) (User, error) {
	var u User
	if err := a.GetJSON(ctx, "/auth/user", &u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetJSON fetches path through Do and decodes the `success` member into out.
func (a *Agent) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url(path), nil)
	if err != nil {
		return err
	}
	return a.doJSON(req, out)
}

// PostJSON posts in as JSON through Do and decodes the `success` member into out.
func (a *Agent) PostJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.doJSON(req, out)
}

func (a *Agent) doJSON(req *http.Request, out any) error {
	resp, err := a.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if out == nil {
		return nil
	}
	var env struct {
		Success json.RawMessage `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("authclient: decode response: %w", err)
	}
	if len(env.Success) == 0 {
		return nil
	}
	return json.Unmarshal(env.Success, out)
}

func (a *Agent) url(path string) string {
	return a.base.JoinPath(path).String()
}

// send issues one attempt of req with access attached as a Bearer token.
func (a *Agent) send(req *http.Request, body []byte, access string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}
	if access != "" {
		r.Header.Set("Authorization", "Bearer "+access)
	} else {
		r.Header.Del("Authorization")
	}
	return a.hc.Do(r)
}

// check passes 2xx responses through and converts the rest into reported errors.
func (a *Agent) check(resp *http.Response) (*http.Response, error) {
	if err := statusError(resp); err != nil {
		drain(resp)
		a.notify(err)
		return nil, err
	}
	return resp, nil
}

// statusError returns nil for 2xx responses, otherwise it consumes the body into an error.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env struct {
		Error  string              `json:"error"`
		Errors map[string][]string `json:"errors"`
	}
	_ = json.Unmarshal(b, &env)
	if resp.StatusCode == http.StatusUnprocessableEntity && len(env.Errors) > 0 {
		return &ValidationError{Fields: env.Errors}
	}
	return &StatusError{Code: resp.StatusCode, Message: env.Error, Body: b}
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("authclient: read request body: %w", err)
	}
	return b, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
