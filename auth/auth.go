// Package auth binds a websocket connection to a user and tenant.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is returned for refresh or other non-access tokens
	ErrWrongTokenType = errors.New("token is not an access token")
)

// TokenTypeAccess is the only token type accepted for connections
const TokenTypeAccess = "access"

// Identity is the authenticated principal of a connection
type Identity struct {
	UserID   string
	TenantID string
}

// Claims is the JWT payload issued by the account service
type Claims struct {
	jwt.RegisteredClaims

	TenantID string `json:"tenant_id"`
	Type     string `json:"typ"`
}

// Authenticator validates HS256 access tokens
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewAuthenticator creates an authenticator. An empty issuer is not checked.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Authenticate extracts and validates the token of an upgrade request
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	token, err := extractToken(r)
	if err != nil {
		return Identity{}, err
	}
	return a.AuthenticateToken(token)
}

// AuthenticateToken validates a raw token string
func (a *Authenticator) AuthenticateToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parser := jwt.NewParser(opts...)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	if claims.Type != TokenTypeAccess {
		return Identity{}, ErrWrongTokenType
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.Subject, TenantID: claims.TenantID}, nil
}

// Issue signs an access token, used by developer tools and tests
func (a *Authenticator) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: identity.TenantID,
		Type:     TokenTypeAccess,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// extractToken reads the bearer header, falling back to the token query
// parameter since browsers cannot set headers on websocket upgrades.
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", ErrInvalidToken
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return "", ErrInvalidToken
		}
		return token, nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
