package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec signs and verifies token payloads with a shared HMAC secret.
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec or an Issuer.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry checks and issuance.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewCodec returns a Codec bound to secret.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("tokens: empty signing secret")
	}
	o := buildOptions(opts)
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s, now: o.now}, nil
}

// Sign stamps the payload kind and returns the compact HS256 token.
func (c *Codec) Sign(p Payload) (string, error) {
	p.stampKind()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, p)
	s, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", p.TokenKind(), err)
	}
	return s, nil
}

// Verify parses raw into p and checks signature, claims and kind.
// Access tokens must carry exp; refresh tokens are accepted without one.
func (c *Codec) Verify(raw string, p Payload) error {
	if raw == "" {
		return newError(CodeMalformed, errors.New("empty token"))
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if p.TokenKind() == KindAccess {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}
	parser := jwt.NewParser(parserOpts...)
	_, err := parser.ParseWithClaims(raw, p, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if p.kindClaim() != p.TokenKind() {
		return newError(CodeWrongKind, fmt.Errorf("got %q, want %q", p.kindClaim(), p.TokenKind()))
	}
	if p.TokenKind() == KindAccess {
		if sub, _ := p.GetSubject(); sub == "" {
			return newError(CodeInvalidClaims, errors.New("missing sub"))
		}
	}
	return nil
}

// VerifyAccess verifies raw as an access token.
func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.Verify(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh verifies raw as a refresh token.
func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.Verify(raw, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.AccessTokenRef == "" {
		return nil, newError(CodeInvalidClaims, errors.New("missing sub or accessToken"))
	}
	return claims, nil
}
