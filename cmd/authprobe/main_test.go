package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/jwtsession/internal/config"
	"github.com/gogotex/jwtsession/pkg/authclient"
	"github.com/stretchr/testify/require"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stderr
	t.Cleanup(func() { stderr = orig })
	stderr = &buf
	return &buf
}

func stubPrompt(t *testing.T, terminal bool, pw string, err error) {
	t.Helper()
	origRead, origTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = origRead, origTerm })
	isTerminal = func(int) bool { return terminal }
	readPassword = func(int) ([]byte, error) { return []byte(pw), err }
}

func TestPromptPassword(t *testing.T) {
	stubPrompt(t, true, "s3cret-pass", nil)
	var out bytes.Buffer
	pw, err := promptPassword(&out)
	require.NoError(t, err)
	require.Equal(t, "s3cret-pass", pw)
	require.Contains(t, out.String(), "Password: ")
}

func TestPromptPassword_NotATerminal(t *testing.T) {
	stubPrompt(t, false, "", nil)
	_, err := promptPassword(&bytes.Buffer{})
	require.Error(t, err)
}

func TestPromptPassword_ReadError(t *testing.T) {
	stubPrompt(t, true, "", errors.New("tty gone"))
	_, err := promptPassword(&bytes.Buffer{})
	require.EqualError(t, err, "tty gone")
}

func testClientConfig(t *testing.T, baseURL string) *config.ClientConfig {
	return &config.ClientConfig{
		BaseURL:        baseURL,
		StoragePath:    filepath.Join(t.TempDir(), "session.json"),
		LoginPath:      "/login",
		AccessTokenTTL: 5 * time.Minute,
		RenewMargin:    time.Minute,
		Timeout:        5 * time.Second,
	}
}

func TestRun_LoginPromptsThenWhoami(t *testing.T) {
	stubPrompt(t, true, "password123", nil)
	t.Setenv("AUTHPROBE_PASSWORD", "")
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", func(c *gin.Context) {
		var in struct {
			Password string `json:"password"`
		}
		_ = c.ShouldBindJSON(&in)
		if in.Password != "password123" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": gin.H{"password": []string{"Incorrect email or password"}}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": gin.H{"user": gin.H{"id": "u1"}, "token": gin.H{"jwt": "a.b.c"}}})
	})
	r.GET("/auth/user", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer a.b.c" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": gin.H{"id": "u1"}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	cfg := testClientConfig(t, srv.URL)
	require.NoError(t, run(cfg, "login", []string{"-email", "ada@example.com"}))
	// the session survives into the next invocation through the session file
	require.NoError(t, run(cfg, "whoami", nil))
}

func TestRun_LoginPrintsResumeHintForSavedCommand(t *testing.T) {
	t.Setenv("AUTHPROBE_PASSWORD", "password123")
	out := captureStderr(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": gin.H{"user": gin.H{"id": "u1"}, "token": gin.H{"jwt": "a.b.c"}}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	cfg := testClientConfig(t, srv.URL)
	seed, err := authclient.NewFileStorage(cfg.StoragePath)
	require.NoError(t, err)
	require.NoError(t, seed.Set(authclient.KeyReturnTo, "get /api/v1/me"))

	require.NoError(t, run(cfg, "login", []string{"-email", "ada@example.com"}))
	require.Equal(t, "resume with: authprobe get /api/v1/me\n", out.String())

	after, err := authclient.NewFileStorage(cfg.StoragePath)
	require.NoError(t, err)
	to, err := after.Get(authclient.KeyReturnTo)
	require.NoError(t, err)
	require.Empty(t, to)
}

func TestRun_ExpiredSessionSavesCommand(t *testing.T) {
	out := captureStderr(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/me", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	cfg := testClientConfig(t, srv.URL)
	seed, err := authclient.NewFileStorage(cfg.StoragePath)
	require.NoError(t, err)
	require.NoError(t, seed.Set(authclient.KeyAccess, "stale"))

	err = run(cfg, "get", []string{"/api/v1/me"})
	require.ErrorIs(t, err, authclient.ErrSessionExpired)
	require.Equal(t, "session expired, log in again (get /api/v1/me)\n", out.String())

	after, err := authclient.NewFileStorage(cfg.StoragePath)
	require.NoError(t, err)
	to, err := after.Get(authclient.KeyReturnTo)
	require.NoError(t, err)
	require.Equal(t, "get /api/v1/me", to)
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(testClientConfig(t, "http://127.0.0.1:1"), "frobnicate", nil)
	require.ErrorContains(t, err, "unknown command")
}
