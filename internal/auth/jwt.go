package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	accessTokenTTL  = 15 * time.Hour
	RefreshTokenTTL = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

// Signer issues and verifies HS256 tokens with one secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

func (s *Signer) GenerateJWT(username string) (string, error) {
	claims := &Claims{
		Username: username,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: s.now().Add(accessTokenTTL).Unix(),
			IssuedAt:  s.now().Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) GenerateRefreshToken() (string, error) {
	claims := &jwt.StandardClaims{
		Id:        uuid.NewString(),
		ExpiresAt: s.now().Add(RefreshTokenTTL).Unix(),
		IssuedAt:  s.now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) ParseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the token's username under "username".
func (s *Signer) AuthMiddleware() gin.HandlerFunc {
	return s.authenticate(func(c *gin.Context) string {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			return ""
		}
		return tokenStr
	})
}

// WebSocketAuthMiddleware is AuthMiddleware for websocket handshakes. A
// handshake without the header may carry the token in access_token.
func (s *Signer) WebSocketAuthMiddleware() gin.HandlerFunc {
	return s.authenticate(func(c *gin.Context) string {
		if tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			return tokenStr
		}
		return c.Query("access_token")
	})
}

func (s *Signer) authenticate(token func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := token(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		claims, err := s.ParseJWT(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set("username", claims.Username)
		c.Next()
	}
}
