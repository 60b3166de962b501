package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Built-in roles, ordered. A higher role implies the lower ones.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// ErrInvalidCredentials is returned for unknown users or wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// StaticClaims is the JWT payload issued in static mode.
type StaticClaims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// StaticUser is one configured credential.
type StaticUser struct {
	Username string
	Password string
	Role     string
}

// StaticProvider issues and verifies HS256 tokens for a fixed user set.
// Intended for single-tenant deployments without an identity provider.
type StaticProvider struct {
	secret []byte
	ttl    time.Duration
	issuer string
	users  map[string]StaticUser
}

// NewStaticProvider builds a provider from "username:password:role" entries.
// The role segment is optional and defaults to viewer.
func NewStaticProvider(secret string, ttl time.Duration, userEntries []string) (*StaticProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required for static auth")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}

	users := make(map[string]StaticUser, len(userEntries))
	for _, entry := range userEntries {
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed user entry %q, want username:password[:role]", entry)
		}
		user := StaticUser{
			Username: parts[0],
			Password: parts[1],
			Role:     RoleViewer,
		}
		if len(parts) >= 3 && parts[2] != "" {
			role := parts[2]
			if _, ok := roleRank[role]; !ok {
				return nil, fmt.Errorf("unknown role %q for user %q", role, parts[0])
			}
			user.Role = role
		}
		if _, dup := users[user.Username]; dup {
			return nil, fmt.Errorf("duplicate user %q", user.Username)
		}
		users[user.Username] = user
	}

	return &StaticProvider{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "flowmesh",
		users:  users,
	}, nil
}

// Authenticate checks the credentials and returns a signed token with its
// claims. Returns ErrInvalidCredentials for unknown users or bad passwords.
func (p *StaticProvider) Authenticate(username, password string) (string, *Claims, error) {
	user, ok := p.users[username]
	// Compare even for unknown users so timing does not reveal existence
	expected := user.Password
	if !ok {
		expected = ""
	}
	match := subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
	if !ok || !match {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	expiry := now.Add(p.ttl)

	jwtClaims := StaticClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		Name:  user.Username,
		Roles: []string{user.Role},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	claims := &Claims{
		Subject:  user.Username,
		Name:     user.Username,
		Roles:    []string{user.Role},
		Issuer:   p.issuer,
		Expiry:   expiry,
		IssuedAt: now,
	}

	return signed, claims, nil
}

// VerifyToken validates an HS256 token and returns its claims.
func (p *StaticProvider) VerifyToken(ctx context.Context, rawToken string) (*Claims, error) {
	rawToken = strings.TrimPrefix(rawToken, "Bearer ")
	rawToken = strings.TrimPrefix(rawToken, "bearer ")

	jwtClaims := &StaticClaims{}
	token, err := jwt.ParseWithClaims(rawToken, jwtClaims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims := &Claims{
		Subject: jwtClaims.Subject,
		Name:    jwtClaims.Name,
		Roles:   jwtClaims.Roles,
		Issuer:  jwtClaims.Issuer,
	}
	if jwtClaims.ExpiresAt != nil {
		claims.Expiry = jwtClaims.ExpiresAt.Time
	}
	if jwtClaims.IssuedAt != nil {
		claims.IssuedAt = jwtClaims.IssuedAt.Time
	}

	return claims, nil
}

// TTL returns the configured token lifetime.
func (p *StaticProvider) TTL() time.Duration {
	return p.ttl
}

// Verify interface compliance
var _ TokenVerifier = (*StaticProvider)(nil)
