package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/veriauth/server/internal/auth"
	"github.com/veriauth/server/internal/model"
	"github.com/veriauth/server/internal/repo"
)

type contextKey string

const userKey contextKey = "user"

// AuthMiddleware validates bearer access tokens, loads the user and attaches
// it to the request context. Every failure mode maps to the same 401
// envelope the original API used.
func AuthMiddleware(jwtService *auth.TokenService, userRepo repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondNotAuthenticated(w)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondNotAuthenticated(w)
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondNotAuthenticated(w)
				return
			}

			claims, err := jwtService.ParseAccess(tokenString)
			if err != nil {
				respondNotAuthenticated(w)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				respondNotAuthenticated(w)
				return
			}

			user, err := userRepo.GetByID(r.Context(), userID)
			if err != nil {
				respondNotAuthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

func respondNotAuthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "not_authenticated",
		"message": "Authentication credentials were not provided.",
	})
}
