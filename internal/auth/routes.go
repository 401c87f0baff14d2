package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/apperrors"
	"github.com/mwehrli/carillon/internal/store"
)

// RegisterRoutes wires login, logout, and the current-user endpoint.
func RegisterRoutes(router chi.Router, st *store.Store, secret string, expiry time.Duration, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	router.Method(http.MethodPost, "/api/login", api.Handler(login(st, secret, expiry, logger)))
	router.Method(http.MethodPost, "/api/logout", api.Handler(logout()))
	router.Method(http.MethodGet, "/api/me", api.Handler(me(st)))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func login(st *store.Store, secret string, expiry time.Duration, logger *log.Logger) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if req.Username == "" || req.Password == "" {
			return apperrors.NewValidationError("username and password are required", nil)
		}

		record, ok := st.GetUser(req.Username)
		if !ok || !VerifyPassword(record.Hash, req.Password) {
			logger.Printf("login failed for %q", req.Username)
			return apperrors.NewUnauthorizedError("Invalid credentials", apperrors.ErrorCodeAuthInvalid)
		}

		token, err := IssueSession(secret, req.Username, expiry)
		if err != nil {
			return apperrors.NewInternalError("Failed to create session")
		}
		SetSessionCookie(w, token, expiry)
		logger.Printf("login: %s (%s)", req.Username, record.Role)
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"username":  req.Username,
			"full_name": record.FullName,
			"role":      record.Role,
		})
	}
}

func logout() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		ClearSessionCookie(w)
		return api.WriteOK(w, "logged out")
	}
}

func me(st *store.Store) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, ok := UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Authentication required")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"username":    user.Username,
			"full_name":   user.FullName,
			"role":        user.Role,
			"permissions": st.EffectivePermissions(user.Username),
		})
	}
}
