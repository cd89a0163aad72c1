// Package auth resolves bearer credentials to an identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

// Roles known to the marketplace.
const (
	RoleRequester = "requester"
	RoleFulfiller = "fulfiller"
	RoleWorker    = "worker"
	RoleReferrer  = "referrer"
	RoleAdmin     = "admin"
)

func ValidRole(role string) bool {
	switch role {
	case RoleRequester, RoleFulfiller, RoleWorker, RoleReferrer, RoleAdmin:
		return true
	}
	return false
}

type Identity struct {
	UserID string
	Role   string
}

// Provider resolves an opaque credential to an Identity.
type Provider interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// JWTProvider validates HS256 tokens carrying user_id and role claims.
type JWTProvider struct {
	secret []byte
	now    func() time.Time
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), now: time.Now}
}

var _ Provider = (*JWTProvider)(nil)

func (p *JWTProvider) Resolve(_ context.Context, credential string) (Identity, error) {
	tokenStr := strings.TrimSpace(credential)
	if tokenStr == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "missing token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid or expired token", err)
	}

	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	if userID == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "token missing user_id")
	}
	if !ValidRole(role) {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, fmt.Sprintf("token carries unknown role %q", role))
	}
	return Identity{UserID: userID, Role: role}, nil
}

// Issue signs a token for id. Credential issuance belongs to the identity
// service; this is used by operator tooling and tests.
func (p *JWTProvider) Issue(id Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": id.UserID,
		"role":    id.Role,
		"exp":     p.now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}
