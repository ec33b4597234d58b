package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/isdelr/ender-blog-be/internal/models"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog/log"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int64
	Username string
}

type contextKey string

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey = contextKey("principal")

// UserLookup resolves the user a token was issued for. A missing user is reported
// with an error wrapping services.ErrNotFound.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (models.User, error)
}

// FromContext returns the principal stored by Middleware, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// IsSafeMethod reports whether method is read-only.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Allow is the access predicate: reads are open to everyone, writes need a principal.
func Allow(method string, p *Principal) bool {
	if IsSafeMethod(method) {
		return true
	}
	return p != nil
}

// CanModify decides whether p may change content written by authorID.
// Without enforcement any authenticated caller may.
func CanModify(p *Principal, authorID int64, enforce bool) bool {
	if p == nil {
		return false
	}
	if !enforce {
		return true
	}
	return p.UserID == authorID
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeDetail(w, http.StatusUnauthorized, detail)
}

// Middleware authenticates unsafe requests and applies Allow. Safe requests pass
// through untouched, whatever their Authorization header says.
func Middleware(issuer *TokenIssuer, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "Authentication credentials were not provided.")
				return
			}

			claims, err := issuer.Validate(tokenStr, AccessToken)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected access token")
				unauthorized(w, "Given token not valid for any token type")
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.UserID)
			if errors.Is(err, services.ErrNotFound) {
				log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("Token user not found")
				unauthorized(w, "User not found")
				return
			}
			if err != nil {
				log.Error().Err(err).Int64("user_id", claims.UserID).Msg("Failed to look up token user")
				writeDetail(w, http.StatusInternalServerError, "Failed to authenticate request")
				return
			}

			p := &Principal{UserID: user.ID, Username: user.Username}
			if !Allow(r.Method, p) {
				unauthorized(w, "Authentication credentials were not provided.")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
