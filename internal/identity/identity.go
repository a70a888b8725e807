package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hourline/internal/domain"
	"hourline/internal/engine/authz"
	"hourline/internal/repo"
)

// ErrUnauthenticated means no usable credential was presented.
var ErrUnauthenticated = errors.New("authentication required")

// Resolver turns a credential into a Principal exactly once per request.
// The resulting value is immutable; nothing downstream re-reads credentials.
type Resolver struct {
	Repo      repo.Repo
	JWTSecret string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	ClientID string `json:"client_id,omitempty"`
	MemberID string `json:"member_id,omitempty"`
}

// ResolveBearer validates an HS256 token and builds the principal from its
// claims. Tokens with an unknown role are rejected outright.
func (r Resolver) ResolveBearer(token string) (authz.Principal, error) {
	if strings.TrimSpace(r.JWTSecret) == "" {
		return authz.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(r.JWTSecret), nil
	})
	if err != nil {
		return authz.Principal{}, err
	}
	if !parsed.Valid {
		return authz.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return authz.Principal{}, errors.New("subject claim required")
	}
	if !domain.ValidRole(claims.Role) {
		return authz.Principal{}, errors.New("role claim required")
	}
	return authz.Principal{
		ActorID:  claims.Subject,
		Role:     claims.Role,
		ClientID: claims.ClientID,
		MemberID: claims.MemberID,
		Source:   "jwt",
	}, nil
}

// ResolveAPIKey looks a key up by its hash and builds the principal from the
// stored row.
func (r Resolver) ResolveAPIKey(ctx context.Context, key string) (authz.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return authz.Principal{}, ErrUnauthenticated
	}
	row, err := r.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return authz.Principal{}, ErrUnauthenticated
		}
		return authz.Principal{}, err
	}
	p := authz.Principal{
		ActorID: row.ID,
		Role:    row.Role,
		Source:  "api_key",
	}
	if row.ClientID != nil {
		p.ClientID = *row.ClientID
	}
	if row.MemberID != nil {
		p.MemberID = *row.MemberID
	}
	return p, nil
}

// Resolve picks the credential out of Authorization / X-Api-Key header
// values. Bearer tokens win when both are present.
func (r Resolver) Resolve(ctx context.Context, authorization, apiKey string) (authz.Principal, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization != "" {
		token, ok := bearerToken(authorization)
		if !ok {
			return authz.Principal{}, ErrUnauthenticated
		}
		p, err := r.ResolveBearer(token)
		if err != nil {
			return authz.Principal{}, ErrUnauthenticated
		}
		return p, nil
	}
	if strings.TrimSpace(apiKey) != "" {
		return r.ResolveAPIKey(ctx, apiKey)
	}
	return authz.Principal{}, ErrUnauthenticated
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// IssueToken signs an HS256 token for the principal. Used by the dev login
// endpoint and the CLI.
func IssueToken(secret string, p authz.Principal, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if p.ActorID == "" {
		return "", errors.New("actor id required")
	}
	if !domain.ValidRole(p.Role) {
		return "", errors.New("valid role required")
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:     p.Role,
		ClientID: p.ClientID,
		MemberID: p.MemberID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
