package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/aksihijau/service-core/internal/httpx"
)

type claimsKey struct{}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims RequireAuth attached to the request.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// Guard is the access check in front of protected routes. It only verifies
// the token cryptographically; it never reads the database.
type Guard struct {
	tm     *TokenManager
	logger *zap.SugaredLogger
}

func NewGuard(tm *TokenManager, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{tm: tm, logger: logger}
}

// RequireAuth rejects requests without a bearer token (401) or with one that
// fails verification (403).
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "access token required", "")
			return
		}
		claims, err := g.tm.Parse(token)
		if err != nil {
			g.logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
			httpx.WriteError(w, http.StatusForbidden, "invalid or expired token", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin must run after RequireAuth. It trusts the is_admin claim, so a
// demotion only takes effect once the bearer's token is reissued.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok || !claims.IsAdmin {
			httpx.WriteError(w, http.StatusForbidden, "admin access required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
