package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/veriauth/server/internal/auth"
	"github.com/veriauth/server/internal/http/handlers"
	"github.com/veriauth/server/internal/middleware"
	"github.com/veriauth/server/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	jwtService *auth.TokenService,
	userRepo repo.UserRepo,
	log *zap.Logger,
	corsAllowedOrigins []string,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "not_found", "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.")
	})

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/check-email", authHandler.HandleCheckEmail)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/send-code", authHandler.HandleSendCode)
		r.Post("/verify-code", authHandler.HandleVerifyCode)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/token/refresh", authHandler.HandleRefresh)

		// Protected routes (require valid access token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService, userRepo))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/logout", authHandler.HandleLogout)
		})
	})

	return r
}

func writeEnvelope(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
