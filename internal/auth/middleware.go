package auth

import (
	"net/http"
	"strings"

	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/apperrors"
	"github.com/mwehrli/carillon/internal/permissions"
	"github.com/mwehrli/carillon/internal/store"
)

var publicRoutes = map[string]struct{}{
	"/api/login":  {},
	"/api/health": {},
}

var publicPrefixes = []string{
	"/api/health",
}

// Middleware authenticates the session cookie for protected routes and
// attaches the user to the request context.
func Middleware(secret string, st *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Authentication required"))
				return
			}
			username, err := VerifySession(secret, cookie.Value)
			if err != nil {
				if err == ErrSessionExpired {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Session expired", apperrors.ErrorCodeSessionExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid session"))
				return
			}
			record, ok := st.GetUser(username)
			if !ok {
				// The account was deleted while the session lived.
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Unknown account"))
				return
			}

			user := User{Username: username, FullName: record.FullName, Role: record.Role}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Require wraps a handler with a permission check against the user's
// effective (deep-merged) permission tree. Unauthenticated requests get 401,
// denied ones 403 with no partial effect.
func Require(st *store.Store, permission string, next api.Handler) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, ok := UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Authentication required")
		}
		effective := st.EffectivePermissions(user.Username)
		if !permissions.HasPermission(effective, permission) {
			return apperrors.NewForbiddenError("Permission denied: " + permission)
		}
		return next(w, r)
	}
}
