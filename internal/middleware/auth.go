package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

const (
	ContextKeyClaims     = "claims"
	ContextKeyAuthMethod = "auth_method"
)

// JWTClaims binds a caller to a role and, optionally, a wallet. Orders
// placed with a token take their actor and wallet from it.
type JWTClaims struct {
	Wallet string      `json:"wallet,omitempty"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	SecretKey      string
	ExpiryDuration time.Duration
	Issuer         string
	Audience       string
	TokenHeader    string
	TokenPrefix    string
	// SkipPrefixes are path prefixes served without a token.
	SkipPrefixes []string
}

func DefaultAuthConfig(secret string) *AuthConfig {
	return &AuthConfig{
		SecretKey:      secret,
		ExpiryDuration: 24 * time.Hour,
		Issuer:         "seatbook",
		Audience:       "seatbook-api",
		TokenHeader:    "Authorization",
		TokenPrefix:    "Bearer ",
		SkipPrefixes: []string{
			"/admin/health",
			"/metrics",
			"/ws/",
		},
	}
}

// AuthMiddleware validates HS256 bearer tokens.
type AuthMiddleware struct {
	config *AuthConfig
}

func NewAuthMiddleware(config *AuthConfig) *AuthMiddleware {
	if config == nil {
		config = DefaultAuthConfig("")
	}
	return &AuthMiddleware{config: config}
}

func (a *AuthMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.shouldSkip(c.Request.URL.Path) {
			c.Next()
			return
		}

		authHeader := c.GetHeader(a.config.TokenHeader)
		if authHeader == "" {
			abortUnauthorized(c, "AUTH_MISSING_HEADER", "missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, a.config.TokenPrefix) {
			abortUnauthorized(c, "AUTH_INVALID_FORMAT", "invalid authorization header format")
			return
		}

		claims, err := a.validateToken(strings.TrimPrefix(authHeader, a.config.TokenPrefix))
		if err != nil {
			abortUnauthorized(c, "AUTH_INVALID_TOKEN", err.Error())
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyAuthMethod, "jwt")
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  code,
	})
}

func (a *AuthMiddleware) shouldSkip(path string) bool {
	for _, prefix := range a.config.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) validateToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.SecretKey), nil
	}, opts...)
	if err != nil {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !claims.Role.IsValid() {
		return nil, errors.New("token role must be SPONSOR or MEMBER")
	}

	return claims, nil
}

// GenerateToken issues a token for subject acting as role with wallet.
func (a *AuthMiddleware) GenerateToken(subject, wallet string, role models.Role) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Wallet: wallet,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.ExpiryDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.config.Issuer,
			Audience:  jwt.ClaimStrings{a.config.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.SecretKey))
}

// GetClaims returns the token claims of an authenticated request.
func GetClaims(c *gin.Context) (*JWTClaims, bool) {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*JWTClaims)
	return claims, ok
}

// APIKeyAuth guards service-to-service routes such as settlement
// callbacks with static keys sent in X-API-Key.
type APIKeyAuth struct {
	validKeys map[string]*APIKeyInfo
}

type APIKeyInfo struct {
	Key        string
	Service    string
	Scopes     []string
	Expiration time.Time
}

func NewAPIKeyAuth(keys ...*APIKeyInfo) *APIKeyAuth {
	a := &APIKeyAuth{validKeys: make(map[string]*APIKeyInfo)}
	for _, k := range keys {
		a.AddKey(k)
	}
	return a
}

func (a *APIKeyAuth) AddKey(info *APIKeyInfo) {
	a.validKeys[info.Key] = info
}

func (a *APIKeyAuth) lookup(key string) (*APIKeyInfo, bool) {
	for k, info := range a.validKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return info, true
		}
	}
	return nil, false
}

// RequireScope rejects requests whose key is missing, unknown, expired
// or lacks scope.
func (a *APIKeyAuth) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			abortUnauthorized(c, "API_KEY_MISSING", "missing API key")
			return
		}

		info, valid := a.lookup(apiKey)
		if !valid {
			abortUnauthorized(c, "API_KEY_INVALID", "invalid API key")
			return
		}

		if !info.Expiration.IsZero() && time.Now().After(info.Expiration) {
			abortUnauthorized(c, "API_KEY_EXPIRED", "API key expired")
			return
		}

		if !hasScope(info.Scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "API key lacks scope " + scope,
				"code":  "API_KEY_FORBIDDEN",
			})
			return
		}

		c.Set(ContextKeyAuthMethod, "api_key")
		c.Next()
	}
}

func hasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
