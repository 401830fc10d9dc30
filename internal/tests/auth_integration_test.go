package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/veriauth/server/internal/auth"
	"github.com/veriauth/server/internal/config"
	"github.com/veriauth/server/internal/db"
	httphandler "github.com/veriauth/server/internal/http"
	"github.com/veriauth/server/internal/http/handlers"
	"github.com/veriauth/server/internal/mail"
	"github.com/veriauth/server/internal/repo"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}

	code := m.Run()
	os.Exit(code)
}

// captureMailer records outbound messages instead of dialing SMTP.
type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{5}\b`)

// lastCode extracts the 5-digit code from the most recent captured mail.
func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages, "a verification mail must have been dispatched")
	code := codePattern.FindString(m.messages[len(m.messages)-1].Body)
	require.Len(t, code, 5, "mail body must contain the 5-digit code")
	return code
}

// testServer holds the server, DB and mailer for integration tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	Mailer *captureMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	log := zap.NewNop()
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	err = RunMigrations(database)
	require.NoError(t, err, "migrations must run successfully")

	userRepo := repo.NewUserRepo(database)
	codeRepo := repo.NewCodeRepo(database)
	tokenRepo := repo.NewTokenRepo(database)

	mailer := &captureMailer{}
	jwtService := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	hasher := auth.NewArgon2Hasher()
	codeService := auth.NewCodeService(codeRepo, userRepo, mailer, cfg.VerificationCodeTTL, log)
	authService := auth.NewAuthService(userRepo, codeRepo, tokenRepo, jwtService, hasher, log)
	authHandler := handlers.NewAuthHandler(authService, codeService, log)

	router := httphandler.NewRouter(authHandler, jwtService, userRepo, log, cfg.CORSAllowedOrigins)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, Mailer: mailer}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) TruncateAuth(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateAuthTables(context.Background(), s.DB), "truncate auth tables")
	s.Mailer.mu.Lock()
	s.Mailer.messages = nil
	s.Mailer.err = nil
	s.Mailer.mu.Unlock()
}

const (
	testEmail    = "a@b.com"
	testPassword = "sup3r-secret-pw"
)

// checkEmailResponse matches POST /api/auth/check-email response
type checkEmailResponse struct {
	Exists  bool   `json:"exists"`
	Message string `json:"message"`
}

// sendCodeResponse matches POST /api/auth/send-code response
type sendCodeResponse struct {
	Message          string `json:"message"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// verifyCodeResponse matches POST /api/auth/verify-code response
type verifyCodeResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// tokenUserResponse matches login/register responses
type tokenUserResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
		IsVerified bool   `json:"is_verified"`
		DateJoined string `json:"date_joined"`
	} `json:"user"`
	Message string `json:"message"`
}

// refreshResponse matches POST /api/auth/token/refresh response
type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// errorResponse matches the {code, message} error envelope
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}) *http.Response {
	t.Helper()
	bodyBytes, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(bodyBytes))
	require.NoError(t, err)
	return resp
}

// signUp runs send-code, verify-code and register, returning the issued pair.
func signUp(t *testing.T, ts *testServer, client *http.Client, email string) tokenUserResponse {
	t.Helper()
	baseURL := ts.BaseURL()

	respSend := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": email})
	sendBody := readBody(respSend)
	respSend.Body.Close()
	require.Equal(t, http.StatusOK, respSend.StatusCode, "send-code must return 200; body: %s", sendBody)

	code := ts.Mailer.lastCode(t)
	respVerify := postJSON(t, client, baseURL+"/api/auth/verify-code", map[string]string{"email": email, "code": code})
	verifyBody := readBody(respVerify)
	respVerify.Body.Close()
	require.Equal(t, http.StatusOK, respVerify.StatusCode, "verify-code must return 200; body: %s", verifyBody)

	respReg := postJSON(t, client, baseURL+"/api/auth/register", map[string]string{
		"email":            email,
		"password":         testPassword,
		"password_confirm": testPassword,
		"first_name":       "John",
		"last_name":        "Doe",
	})
	defer respReg.Body.Close()
	regBody := readBody(respReg)
	require.Equal(t, http.StatusCreated, respReg.StatusCode, "register must return 201; body: %s", regBody)
	var res tokenUserResponse
	require.NoError(t, json.Unmarshal([]byte(regBody), &res))
	return res
}

func TestAuthIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body["ok"], "response must contain {\"ok\":true}")
	})

	t.Run("B_CheckEmailUnknown", func(t *testing.T) {
		ts.TruncateAuth(t)
		resp := postJSON(t, client, baseURL+"/api/auth/check-email", map[string]string{"email": "nobody@example.com"})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "check-email must return 200; body: %s", respBody)
		var res checkEmailResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &res))
		assert.False(t, res.Exists)
		assert.Equal(t, "New user. Verification code will be sent.", res.Message)
	})

	t.Run("C_SendCode", func(t *testing.T) {
		ts.TruncateAuth(t)
		resp := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": testEmail})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "send-code must return 200; body: %s", respBody)
		var res sendCodeResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &res))
		assert.Equal(t, "Verification code sent to email.", res.Message)
		assert.Equal(t, 10, res.ExpiresInMinutes)
		assert.Len(t, ts.Mailer.lastCode(t), 5, "the mailed code must be 5 digits")
	})

	t.Run("C2_SendCodeTwiceSupersedes", func(t *testing.T) {
		ts.TruncateAuth(t)
		resp1 := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": testEmail})
		resp1Body := readBody(resp1)
		resp1.Body.Close()
		require.Equal(t, http.StatusOK, resp1.StatusCode, "1st send-code must return 200; body: %s", resp1Body)
		firstCode := ts.Mailer.lastCode(t)

		resp2 := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": testEmail})
		resp2Body := readBody(resp2)
		resp2.Body.Close()
		require.Equal(t, http.StatusOK, resp2.StatusCode, "2nd send-code for same email must return 200; body: %s", resp2Body)
		secondCode := ts.Mailer.lastCode(t)

		// The superseded code must no longer verify. The two random codes
		// can collide; only assert on the first when they differ.
		if firstCode != secondCode {
			respOld := postJSON(t, client, baseURL+"/api/auth/verify-code", map[string]string{"email": testEmail, "code": firstCode})
			oldBody := readBody(respOld)
			respOld.Body.Close()
			assert.Equal(t, http.StatusBadRequest, respOld.StatusCode, "superseded code must be rejected; body: %s", oldBody)
			var errRes errorResponse
			require.NoError(t, json.Unmarshal([]byte(oldBody), &errRes))
			assert.Equal(t, "validation_error", errRes.Code)
		}

		respNew := postJSON(t, client, baseURL+"/api/auth/verify-code", map[string]string{"email": testEmail, "code": secondCode})
		defer respNew.Body.Close()
		assert.Equal(t, http.StatusOK, respNew.StatusCode, "latest code must verify; body: %s", readBody(respNew))
	})

	t.Run("D_FullSignupFlow", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := signUp(t, ts, client, testEmail)
		assert.NotEmpty(t, res.Access)
		assert.NotEmpty(t, res.Refresh)
		assert.Equal(t, testEmail, res.User.Email)
		assert.Equal(t, "John", res.User.FirstName)
		assert.True(t, res.User.IsVerified)
		assert.Equal(t, "Registration successful.", res.Message)

		// me with the fresh access token
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+res.Access)
		respMe, err := client.Do(req)
		require.NoError(t, err)
		defer respMe.Body.Close()
		meBody := readBody(respMe)
		assert.Equal(t, http.StatusOK, respMe.StatusCode, "GET /api/auth/me must return 200; body: %s", meBody)
		var me struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		}
		require.NoError(t, json.Unmarshal([]byte(meBody), &me))
		assert.Equal(t, testEmail, me.Email)
		assert.Equal(t, res.User.ID, me.ID)

		// check-email now reports the account
		respCheck := postJSON(t, client, baseURL+"/api/auth/check-email", map[string]string{"email": testEmail})
		defer respCheck.Body.Close()
		var check checkEmailResponse
		require.NoError(t, json.NewDecoder(respCheck.Body).Decode(&check))
		assert.True(t, check.Exists)
		assert.Equal(t, "User exists. Please enter your password.", check.Message)
	})

	t.Run("D2_Login", func(t *testing.T) {
		ts.TruncateAuth(t)
		signUp(t, ts, client, testEmail)

		resp := postJSON(t, client, baseURL+"/api/auth/login", map[string]string{"email": "A@B.com", "password": testPassword})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "login must return 200; body: %s", respBody)
		var res tokenUserResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &res))
		assert.NotEmpty(t, res.Access)
		assert.NotEmpty(t, res.Refresh)
		assert.Equal(t, testEmail, res.User.Email, "login must normalize the email")
		assert.Equal(t, "Login successful.", res.Message)
	})

	t.Run("E_LoginWrongPassword", func(t *testing.T) {
		ts.TruncateAuth(t)
		signUp(t, ts, client, testEmail)

		resp := postJSON(t, client, baseURL+"/api/auth/login", map[string]string{"email": testEmail, "password": "wrong-password1"})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "wrong password must return 400; body: %s", respBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &errRes))
		assert.Equal(t, "invalid_credentials", errRes.Code)
	})

	t.Run("F_RefreshRotation", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := signUp(t, ts, client, testEmail)

		respRefresh := postJSON(t, client, baseURL+"/api/auth/token/refresh", map[string]string{"refresh": res.Refresh})
		refreshBody := readBody(respRefresh)
		respRefresh.Body.Close()
		require.Equal(t, http.StatusOK, respRefresh.StatusCode, "refresh must return 200; body: %s", refreshBody)
		var rotated refreshResponse
		require.NoError(t, json.Unmarshal([]byte(refreshBody), &rotated))
		assert.NotEmpty(t, rotated.Access)
		assert.NotEqual(t, res.Refresh, rotated.Refresh, "rotation must issue a new refresh token")

		// Using the rotated-away token again must fail.
		respOld := postJSON(t, client, baseURL+"/api/auth/token/refresh", map[string]string{"refresh": res.Refresh})
		defer respOld.Body.Close()
		oldBody := readBody(respOld)
		assert.Equal(t, http.StatusBadRequest, respOld.StatusCode, "rotated refresh token must return 400; body: %s", oldBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(oldBody), &errRes))
		assert.Equal(t, "invalid_token", errRes.Code)
	})

	t.Run("G_Logout", func(t *testing.T) {
		ts.TruncateAuth(t)
		res := signUp(t, ts, client, testEmail)

		logoutReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/auth/logout",
			bytes.NewReader(mustJSON(t, map[string]string{"refresh": res.Refresh})))
		logoutReq.Header.Set("Content-Type", "application/json")
		logoutReq.Header.Set("Authorization", "Bearer "+res.Access)
		respLogout, err := client.Do(logoutReq)
		require.NoError(t, err)
		logoutBody := readBody(respLogout)
		respLogout.Body.Close()
		assert.Equal(t, http.StatusOK, respLogout.StatusCode, "logout must return 200; body: %s", logoutBody)

		// A blacklisted refresh token must never yield another pair.
		respRefresh := postJSON(t, client, baseURL+"/api/auth/token/refresh", map[string]string{"refresh": res.Refresh})
		defer respRefresh.Body.Close()
		refreshBody := readBody(respRefresh)
		assert.Equal(t, http.StatusBadRequest, respRefresh.StatusCode, "revoked refresh token must return 400; body: %s", refreshBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(refreshBody), &errRes))
		assert.Equal(t, "invalid_token", errRes.Code)
	})

	t.Run("H_SendCodeExistingEmail", func(t *testing.T) {
		ts.TruncateAuth(t)
		signUp(t, ts, client, testEmail)

		resp := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": testEmail})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "send-code for a registered email must return 400; body: %s", respBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &errRes))
		assert.Equal(t, "validation_error", errRes.Code)
		assert.Equal(t, "User with this email already exists.", errRes.Message)
	})

	t.Run("I_RegisterWithoutVerification", func(t *testing.T) {
		ts.TruncateAuth(t)
		resp := postJSON(t, client, baseURL+"/api/auth/register", map[string]string{
			"email":            "fresh@example.com",
			"password":         testPassword,
			"password_confirm": testPassword,
		})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "register without a verified code must return 400; body: %s", respBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &errRes))
		assert.Equal(t, "email_not_verified", errRes.Code)
	})

	t.Run("J_ConcurrentVerifySingleWinner", func(t *testing.T) {
		ts.TruncateAuth(t)
		respSend := postJSON(t, client, baseURL+"/api/auth/send-code", map[string]string{"email": testEmail})
		respSend.Body.Close()
		require.Equal(t, http.StatusOK, respSend.StatusCode)
		code := ts.Mailer.lastCode(t)

		const attempts = 8
		statuses := make(chan int, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bodyBytes, _ := json.Marshal(map[string]string{"email": testEmail, "code": code})
				resp, err := client.Post(baseURL+"/api/auth/verify-code", "application/json", bytes.NewReader(bodyBytes))
				if err != nil {
					statuses <- 0
					return
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				statuses <- resp.StatusCode
			}()
		}
		wg.Wait()
		close(statuses)

		var successes int
		for status := range statuses {
			if status == http.StatusOK {
				successes++
			} else {
				assert.Equal(t, http.StatusBadRequest, status)
			}
		}
		assert.Equal(t, 1, successes, "exactly one concurrent verify must win")
	})
}

func mustJSON(t *testing.T, body interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

// readBody reads and returns the response body (consumes it). Use for error messages only.
func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
