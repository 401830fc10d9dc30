package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// VerificationCodeTTL is how long a signup code stays valid.
	VerificationCodeTTL time.Duration

	Email EmailConfig

	CORSAllowedOrigins []string
}

// EmailConfig holds outbound mail settings. Backend "console" logs the
// message instead of dialing SMTP.
type EmailConfig struct {
	Backend  string
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                "8080", // default port
		AccessTokenTTL:      60 * time.Minute,
		RefreshTokenTTL:     7 * 24 * time.Hour,
		VerificationCodeTTL: 10 * time.Minute,
		Email: EmailConfig{
			Backend: "console",
			Host:    "smtp.gmail.com",
			Port:    587,
			UseTLS:  true,
			From:    "noreply@example.com",
			Timeout: 10 * time.Second,
		},
		CORSAllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	if v := os.Getenv("ACCESS_TOKEN_TTL_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL_MINUTES: %q", v)
		}
		cfg.AccessTokenTTL = time.Duration(n) * time.Minute
	}

	if v := os.Getenv("REFRESH_TOKEN_TTL_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid REFRESH_TOKEN_TTL_DAYS: %q", v)
		}
		cfg.RefreshTokenTTL = time.Duration(n) * 24 * time.Hour
	}

	if v := os.Getenv("VERIFICATION_CODE_EXPIRY_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid VERIFICATION_CODE_EXPIRY_MINUTES: %q", v)
		}
		cfg.VerificationCodeTTL = time.Duration(n) * time.Minute
	}

	if v := os.Getenv("EMAIL_BACKEND"); v != "" {
		if v != "console" && v != "smtp" {
			return nil, fmt.Errorf("EMAIL_BACKEND must be \"console\" or \"smtp\", got %q", v)
		}
		cfg.Email.Backend = v
	}
	if v := os.Getenv("EMAIL_HOST"); v != "" {
		cfg.Email.Host = v
	}
	if v := os.Getenv("EMAIL_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid EMAIL_PORT: %q", v)
		}
		cfg.Email.Port = n
	}
	if v := os.Getenv("EMAIL_USE_TLS"); v != "" {
		cfg.Email.UseTLS = v == "true"
	}
	cfg.Email.Username = os.Getenv("EMAIL_HOST_USER")
	cfg.Email.Password = os.Getenv("EMAIL_HOST_PASSWORD")
	if v := os.Getenv("DEFAULT_FROM_EMAIL"); v != "" {
		cfg.Email.From = v
	}
	if v := os.Getenv("EMAIL_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid EMAIL_TIMEOUT_SECONDS: %q", v)
		}
		cfg.Email.Timeout = time.Duration(n) * time.Second
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := make([]string, 0)
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSAllowedOrigins = origins
	}

	if cfg.Email.Backend == "smtp" && cfg.Email.Host == "" {
		return nil, fmt.Errorf("EMAIL_HOST is required when EMAIL_BACKEND=smtp")
	}

	return cfg, nil
}
