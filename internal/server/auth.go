package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"hourline/internal/engine/authz"
	"hourline/internal/identity"
)

type AuthConfig struct {
	JWTSecret string
	DevLogin  bool
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p authz.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (authz.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(authz.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (authz.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return authz.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// newAuthMiddleware resolves the credential once and stores the resulting
// principal on the request context. Everything downstream works off that
// value; nothing re-reads headers.
func newAuthMiddleware(basePath string, resolver identity.Resolver, devLogin bool) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			if devLogin && req.URL.Path == devLoginPath {
				next.ServeHTTP(w, req)
				return
			}

			p, err := resolver.Resolve(req.Context(),
				req.Header.Get("Authorization"),
				req.Header.Get("X-Api-Key"))
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
