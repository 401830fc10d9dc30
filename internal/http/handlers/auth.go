package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/veriauth/server/internal/auth"
	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/middleware"
	"github.com/veriauth/server/internal/model"
)

// AuthHandler handles the authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	codeService *auth.CodeService
	validate    *validator.Validate
	log         *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, codeService *auth.CodeService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		codeService: codeService,
		validate:    validator.New(),
		log:         log,
	}
}

// userResponse is the user object in API responses
type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsVerified bool   `json:"is_verified"`
	DateJoined string `json:"date_joined"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsVerified: u.IsVerified,
		DateJoined: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type checkEmailRequest struct {
	Email string `json:"email"`
}

type checkEmailResponse struct {
	Exists  bool   `json:"exists"`
	Message string `json:"message"`
}

// HandleCheckEmail handles POST /api/auth/check-email
func (h *AuthHandler) HandleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req checkEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireEmail(w, req.Email) {
		return
	}

	exists, err := h.authService.CheckEmail(r.Context(), req.Email)
	if err != nil {
		h.serverError(w, err)
		return
	}

	message := "New user. Verification code will be sent."
	if exists {
		message = "User exists. Please enter your password."
	}
	writeJSON(w, http.StatusOK, checkEmailResponse{Exists: exists, Message: message})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenUserResponse struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    userResponse `json:"user"`
	Message string       `json:"message"`
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required.")
		return
	}

	user, pair, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case autherrors.IsInvalidCredentials(err):
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid email or password.")
		case autherrors.IsAccountDisabled(err):
			writeError(w, http.StatusBadRequest, "validation_error", "User account is disabled.")
		case autherrors.IsEmailNotVerified(err):
			writeError(w, http.StatusBadRequest, "email_not_verified", "Email is not verified.")
		default:
			h.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenUserResponse{
		Access:  pair.Access,
		Refresh: pair.Refresh,
		User:    newUserResponse(user),
		Message: "Login successful.",
	})
}

type sendCodeRequest struct {
	Email string `json:"email"`
}

type sendCodeResponse struct {
	Message          string `json:"message"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// HandleSendCode handles POST /api/auth/send-code
func (h *AuthHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireEmail(w, req.Email) {
		return
	}

	if err := h.codeService.RequestCode(r.Context(), req.Email); err != nil {
		switch {
		case autherrors.IsAlreadyExists(err):
			writeError(w, http.StatusBadRequest, "validation_error", "User with this email already exists.")
		case autherrors.IsEmailDelivery(err):
			writeError(w, http.StatusBadRequest, "server_error", "Failed to send email. Please try again.")
		default:
			h.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, sendCodeResponse{
		Message:          "Verification code sent to email.",
		ExpiresInMinutes: h.codeService.TTLMinutes(),
	})
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type verifyCodeResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// HandleVerifyCode handles POST /api/auth/verify-code
func (h *AuthHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireEmail(w, req.Email) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if len(req.Code) != 5 {
		writeError(w, http.StatusBadRequest, "validation_error", "Code must be exactly 5 digits.")
		return
	}

	if err := h.codeService.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		switch {
		case autherrors.IsCodeExpired(err):
			writeError(w, http.StatusBadRequest, "validation_error", "Verification code has expired. Please request a new one.")
		case autherrors.IsCodeInvalid(err):
			writeError(w, http.StatusBadRequest, "validation_error", "Invalid verification code.")
		default:
			h.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyCodeResponse{
		Verified: true,
		Message:  "Code verified successfully. Please set your password.",
	})
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// HandleRegister handles POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireEmail(w, req.Email) {
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Password is required.")
		return
	}

	user, pair, err := h.authService.Register(r.Context(), auth.RegisterParams{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
	})
	if err != nil {
		switch {
		case autherrors.IsPasswordMismatch(err):
			writeError(w, http.StatusBadRequest, "password_mismatch", "Passwords do not match.")
		case autherrors.IsInvalidPassword(err):
			writeError(w, http.StatusBadRequest, "validation_error", passwordPolicyMessage(err))
		case autherrors.IsEmailNotVerified(err):
			writeError(w, http.StatusBadRequest, "email_not_verified", "Email not verified. Please verify your email first.")
		case autherrors.IsAlreadyExists(err):
			writeError(w, http.StatusBadRequest, "user_exists", "User with this email already exists.")
		default:
			h.serverError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, tokenUserResponse{
		Access:  pair.Access,
		Refresh: pair.Refresh,
		User:    newUserResponse(user),
		Message: "Registration successful.",
	})
}

// HandleMe handles GET /api/auth/me (protected)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "Authentication credentials were not provided.")
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(*user))
}

type logoutRequest struct {
	Refresh string `json:"refresh"`
}

// HandleLogout handles POST /api/auth/logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Refresh = strings.TrimSpace(req.Refresh)
	if req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "Refresh token is required.")
		return
	}

	if err := h.authService.Logout(r.Context(), req.Refresh); err != nil {
		if autherrors.IsInvalidToken(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "Invalid token or token already blacklisted.")
			return
		}
		h.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful."})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// HandleRefresh handles POST /api/auth/token/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Refresh = strings.TrimSpace(req.Refresh)
	if req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "Refresh token is required.")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.Refresh)
	if err != nil {
		if autherrors.IsInvalidToken(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "Token is invalid or expired.")
			return
		}
		h.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Access: pair.Access, Refresh: pair.Refresh})
}

// decode parses the JSON body; a malformed body yields a validation_error.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body.")
		return false
	}
	return true
}

// requireEmail validates email shape at the boundary.
func (h *AuthHandler) requireEmail(w http.ResponseWriter, email string) bool {
	if err := h.validate.Var(strings.TrimSpace(email), "required,email"); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Enter a valid email address.")
		return false
	}
	return true
}

func (h *AuthHandler) serverError(w http.ResponseWriter, err error) {
	h.log.Error("unhandled error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
}

// passwordPolicyMessage strips the sentinel prefix, leaving the
// human-readable policy message.
func passwordPolicyMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError sends the unified {code, message} error envelope
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"code": code, "message": message})
}
