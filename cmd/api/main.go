package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/veriauth/server/internal/auth"
	"github.com/veriauth/server/internal/config"
	"github.com/veriauth/server/internal/db"
	httphandler "github.com/veriauth/server/internal/http"
	"github.com/veriauth/server/internal/http/handlers"
	applog "github.com/veriauth/server/internal/infra/log"
	"github.com/veriauth/server/internal/mail"
	"github.com/veriauth/server/internal/repo"
)

func main() {
	// .env is optional; real env vars override.
	_ = godotenv.Load(".env")

	log := applog.Must(os.Getenv("LOG_LEVEL"))
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	userRepo := repo.NewUserRepo(database)
	codeRepo := repo.NewCodeRepo(database)
	tokenRepo := repo.NewTokenRepo(database)

	var mailer mail.Mailer
	if cfg.Email.Backend == "smtp" {
		mailer = mail.NewSMTPMailer(cfg.Email, log)
	} else {
		mailer = mail.NewConsoleMailer(log)
	}

	jwtService := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	hasher := auth.NewArgon2Hasher()
	codeService := auth.NewCodeService(codeRepo, userRepo, mailer, cfg.VerificationCodeTTL, log)
	authService := auth.NewAuthService(userRepo, codeRepo, tokenRepo, jwtService, hasher, log)

	authHandler := handlers.NewAuthHandler(authService, codeService, log)

	router := httphandler.NewRouter(authHandler, jwtService, userRepo, log, cfg.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
