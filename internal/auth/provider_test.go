package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

func TestIssueAndResolve(t *testing.T) {
	p := NewJWTProvider("secret")
	token, err := p.Issue(Identity{UserID: "u1", Role: RoleFulfiller}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := p.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.UserID != "u1" || id.Role != RoleFulfiller {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveRejects(t *testing.T) {
	p := NewJWTProvider("secret")
	other := NewJWTProvider("other")

	expired := NewJWTProvider("secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _ := expired.Issue(Identity{UserID: "u1", Role: RoleRequester}, time.Hour)

	foreign, _ := other.Issue(Identity{UserID: "u1", Role: RoleRequester}, time.Hour)
	badRole, _ := p.Issue(Identity{UserID: "u1", Role: "superuser"}, time.Hour)
	noUser, _ := p.Issue(Identity{Role: RoleRequester}, time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1", "role": RoleAdmin}).SignedString([]byte("secret"))

	tests := map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"expired":   expiredToken,
		"foreign":   foreign,
		"bad role":  badRole,
		"no user":   noUser,
		"no expiry": noExp,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.Resolve(context.Background(), token)
			if !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Fatalf("resolve = %v, want unauthenticated", err)
			}
		})
	}
}
