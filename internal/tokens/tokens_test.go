package tokens

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-should-be-long-enough"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIssuer(t *testing.T, clock *fakeClock) (*Codec, *Issuer) {
	t.Helper()
	codec, err := NewCodec([]byte(testSecret), WithClock(clock.Now))
	require.NoError(t, err)
	return codec, NewIssuer(codec, 5*time.Minute, WithClock(clock.Now))
}

func testUser() map[string]any {
	return map[string]any{"id": "user-123", "email": "test@example.com", "name": "Test User"}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	codec, issuer := newTestIssuer(t, clock)

	at, err := issuer.IssueAccessToken(testUser(), true, false)
	require.NoError(t, err)

	got, err := codec.VerifyAccess(at.Raw)
	require.NoError(t, err)
	require.Equal(t, "user-123", got.Subject)
	require.Equal(t, at.Claims.ID, got.ID)
	require.Equal(t, testUser(), got.User)
	require.True(t, got.RememberMe)
	require.False(t, got.JWTCookie)
	require.Equal(t, KindAccess, got.Type)
	require.Equal(t, clock.t.Unix(), got.IssuedAt.Unix())
	require.Equal(t, clock.t.Add(5*time.Minute).Unix(), got.ExpiresAt.Unix())
}

func TestRefreshToken_RoundTripHasNoExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	codec, issuer := newTestIssuer(t, clock)

	rt, err := issuer.IssueRefreshToken("user-123", "stable-credential", true, 3)
	require.NoError(t, err)
	require.Nil(t, rt.Claims.ExpiresAt)

	// years later the refresh token still verifies
	clock.Advance(5 * 365 * 24 * time.Hour)
	got, err := codec.VerifyRefresh(rt.Raw)
	require.NoError(t, err)
	require.Equal(t, "user-123", got.Subject)
	require.Equal(t, "stable-credential", got.AccessTokenRef)
	require.True(t, got.JWTCookie)
	require.Equal(t, int64(3), got.Epoch)
}

func TestAccessToken_ExpiryBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	codec, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, false)
	require.NoError(t, err)

	clock.Advance(5*time.Minute - time.Second)
	_, err = codec.VerifyAccess(at.Raw)
	require.NoError(t, err, "token must verify before exp")

	clock.Advance(time.Second)
	_, err = codec.VerifyAccess(at.Raw)
	require.ErrorIs(t, err, ErrExpired, "token must fail at exp")

	clock.Advance(time.Hour)
	_, err = codec.VerifyAccess(at.Raw)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, CodeExpired, CodeOf(err))
}

func TestVerify_WrongSecretFails(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	_, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, false)
	require.NoError(t, err)

	other, err := NewCodec([]byte("different-secret-xxxxxxxxxxxxxxxx"))
	require.NoError(t, err)
	_, err = other.VerifyAccess(at.Raw)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	codec, err := NewCodec([]byte(testSecret))
	require.NoError(t, err)

	for _, raw := range []string{"", "not.a.jwt", "garbage"} {
		_, err := codec.VerifyAccess(raw)
		require.ErrorIs(t, err, ErrMalformed, "raw=%q", raw)
	}
}

func TestVerify_AlgNoneRejected(t *testing.T) {
	codec, err := NewCodec([]byte(testSecret))
	require.NoError(t, err)

	headerEnc := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payloadEnc := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u-none","typ":"access","exp":9999999999}`))
	_, err = codec.VerifyAccess(headerEnc + "." + payloadEnc + ".")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrExpired))
}

func TestVerify_TamperedPayload(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, false)
	require.NoError(t, err)

	parts := strings.Split(at.Raw, ".")
	require.Len(t, parts, 3)
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(payload), "user-123", "attacker", -1)))

	_, err = codec.VerifyAccess(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedExpiredTokenReportsSignature(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	codec, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, false)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	tampered := at.Raw[:len(at.Raw)-2] + "xx"
	_, err = codec.VerifyAccess(tampered)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrExpired))
}

func TestVerify_KindsAreNotInterchangeable(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec, issuer := newTestIssuer(t, clock)

	at, err := issuer.IssueAccessToken(testUser(), true, true)
	require.NoError(t, err)
	_, err = codec.VerifyRefresh(at.Raw)
	require.ErrorIs(t, err, ErrWrongKind)

	rt, err := issuer.IssueRefreshToken("user-123", "cred", false, 0)
	require.NoError(t, err)
	_, err = codec.VerifyAccess(rt.Raw)
	require.Error(t, err)
}

func TestRenew_PreservesFlagsAndRefreshesSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	codec, issuer := newTestIssuer(t, clock)

	for _, flags := range [][2]bool{{true, true}, {true, false}, {false, true}, {false, false}} {
		at, err := issuer.IssueAccessToken(testUser(), flags[0], flags[1])
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		fresh := testUser()
		fresh["name"] = "Renamed"
		renewed, err := issuer.Renew(at.Claims, fresh)
		require.NoError(t, err)
		require.Equal(t, flags[0], renewed.Claims.RememberMe)
		require.Equal(t, flags[1], renewed.Claims.JWTCookie)
		require.Equal(t, "Renamed", renewed.Claims.User["name"])
		require.True(t, renewed.Claims.Expiry().After(at.Claims.Expiry()))
		require.NotEqual(t, at.Claims.ID, renewed.Claims.ID)

		got, err := codec.VerifyAccess(renewed.Raw)
		require.NoError(t, err)
		require.Equal(t, flags[0], got.RememberMe)
		require.Equal(t, flags[1], got.JWTCookie)
	}
}

func TestRenew_KeepsSnapshotWhenUserNil(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	_, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, true)
	require.NoError(t, err)

	renewed, err := issuer.Renew(at.Claims, nil)
	require.NoError(t, err)
	require.Equal(t, testUser(), renewed.Claims.User)
}

func TestRenew_FailsOnceExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	_, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), true, false)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = issuer.Renew(at.Claims, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestIssueAccessToken_RequiresID(t *testing.T) {
	_, issuer := newTestIssuer(t, &fakeClock{t: time.Now()})
	_, err := issuer.IssueAccessToken(map[string]any{"email": "x@y"}, false, false)
	require.Error(t, err)
}

func TestNewCodec_EmptySecret(t *testing.T) {
	_, err := NewCodec(nil)
	require.Error(t, err)
}

func TestVerify_ConcurrentCallers(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	codec, issuer := newTestIssuer(t, clock)
	at, err := issuer.IssueAccessToken(testUser(), false, false)
	require.NoError(t, err)

	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		go func() {
			_, err := codec.VerifyAccess(at.Raw)
			errs <- err
		}()
	}
	for i := 0; i < 32; i++ {
		require.NoError(t, <-errs)
	}
}
