package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseJWT(t *testing.T) {
	s := NewSigner("secret")

	token, err := s.GenerateJWT("alice")
	require.NoError(t, err)

	claims, err := s.ParseJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Greater(t, claims.ExpiresAt, time.Now().Unix())
}

func TestParseJWTRejects(t *testing.T) {
	s := NewSigner("secret")
	other := NewSigner("other")

	foreign, err := other.GenerateJWT("alice")
	require.NoError(t, err)
	_, err = s.ParseJWT(foreign)
	assert.Error(t, err)

	expired := NewSigner("secret")
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := expired.GenerateJWT("alice")
	require.NoError(t, err)
	_, err = s.ParseJWT(old)
	assert.Error(t, err)

	// refresh tokens carry no username and are not access tokens.
	refresh, err := s.GenerateRefreshToken()
	require.NoError(t, err)
	_, err = s.ParseJWT(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ParseJWT("garbage")
	assert.Error(t, err)
}

func TestGenerateRefreshTokenIsUnique(t *testing.T) {
	s := NewSigner("secret")
	a, err := s.GenerateRefreshToken()
	require.NoError(t, err)
	b, err := s.GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("secret")
	r := gin.New()
	r.GET("/me", s.AuthMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username"))
	})
	token, err := s.GenerateJWT("alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid", header: "Bearer " + token, status: http.StatusOK, body: "alice"},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "no scheme", header: token, status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestWebSocketAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("secret")
	r := gin.New()
	r.GET("/watch", s.WebSocketAuthMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username"))
	})
	token, err := s.GenerateJWT("alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{name: "header", target: "/watch", header: "Bearer " + token, status: http.StatusOK},
		{name: "query", target: "/watch?access_token=" + token, status: http.StatusOK},
		{name: "bad query", target: "/watch?access_token=nope", status: http.StatusUnauthorized},
		{name: "missing", target: "/watch", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}
