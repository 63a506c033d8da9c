package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Yutman/Nexus-Trade/config"
	"github.com/Yutman/Nexus-Trade/model"
	"github.com/Yutman/Nexus-Trade/ratelimit"
	"github.com/Yutman/Nexus-Trade/store"
	"github.com/Yutman/Nexus-Trade/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"
)

// stubMailer records reset emails and signals delivery for tests that wait
// on the fire-and-forget dispatch.
type stubMailer struct {
	mu        sync.Mutex
	sent      []sentMail
	delivered chan sentMail
}

type sentMail struct {
	To       string
	RawToken string
}

func newStubMailer() *stubMailer {
	return &stubMailer{delivered: make(chan sentMail, 8)}
}

func (m *stubMailer) SendPasswordReset(toEmail, rawToken string) error {
	m.mu.Lock()
	mail := sentMail{To: toEmail, RawToken: rawToken}
	m.sent = append(m.sent, mail)
	m.mu.Unlock()

	m.delivered <- mail
	return nil
}

func (m *stubMailer) waitForMail(t *testing.T) sentMail {
	t.Helper()
	select {
	case mail := <-m.delivered:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("no reset email dispatched")
		return sentMail{}
	}
}

func (m *stubMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type resetHarness struct {
	handler *ResetHandler
	users   *store.RedisUserStore
	resets  *store.RedisResetStore
	mailer  *stubMailer
	redis   *miniredis.Miniredis
	client  *redis.Client
}

func testConfig() config.Config {
	return config.Config{
		Redis: config.RedisConfig{OperationTimeout: 5},
		RateLimit: config.RateLimitConfig{
			RequestIP:    config.RateLimitBucket{Limit: 10, WindowSeconds: 60},
			RequestEmail: config.RateLimitBucket{Limit: 100, WindowSeconds: 3600},
			VerifyIP:     config.RateLimitBucket{Limit: 100, WindowSeconds: 60},
			ConsumeIP:    config.RateLimitBucket{Limit: 100, WindowSeconds: 60},
			ConsumeToken: config.RateLimitBucket{Limit: 100, WindowSeconds: 900},
		},
		Reset: config.ResetConfig{
			TokenTTLSeconds: 3600,
			MaxAttempts:     5,
		},
		Password: config.PasswordRulesConfig{
			MinLength:     8,
			MaxLength:     128,
			RequireLetter: true,
			RequireDigit:  true,
		},
	}
}

func setupResetHarness(t *testing.T, cfg config.Config) *resetHarness {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})

	users := store.NewRedisUserStore(client, nil)
	resets := store.NewRedisResetStore(client)
	limiter := ratelimit.New(ratelimit.NewMemoryCounterStore())
	tokens := token.NewAuthority(time.Duration(cfg.Reset.TokenTTLSeconds) * time.Second)
	mailer := newStubMailer()

	return &resetHarness{
		handler: NewResetHandler(users, resets, limiter, tokens, mailer, cfg),
		users:   users,
		resets:  resets,
		mailer:  mailer,
		redis:   s,
		client:  client,
	}
}

func (h *resetHarness) seedUser(t *testing.T, email, password string) *model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	user := &model.User{Email: email, PasswordHash: string(hash), Active: true}
	if err := h.users.Save(context.Background(), user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return user
}

func postJSON(t *testing.T, handlerFunc http.HandlerFunc, path string, body interface{}, ip string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	handlerFunc(w, req)
	return w
}

func TestRequestReset_UnknownEmail_GenericResponse(t *testing.T) {
	h := setupResetHarness(t, testConfig())

	w := postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "ghost@example.com"}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp model.MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if resp.Message != "If an account exists, a reset link will be sent." {
		t.Errorf("message = %q", resp.Message)
	}
	if h.mailer.sentCount() != 0 {
		t.Error("mail dispatched for unknown account")
	}
}

func TestRequestReset_KnownEmail_IssuesToken(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	user := h.seedUser(t, "trader@example.com", "OldPassword1")

	w := postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "Trader@Example.com"}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	mail := h.mailer.waitForMail(t)
	if mail.To != "trader@example.com" {
		t.Errorf("mail to = %q", mail.To)
	}

	// Only the fingerprint is at rest; the record is keyed by it, not by
	// the mailed token.
	record, err := h.resets.GetByFingerprint(context.Background(), token.Fingerprint(mail.RawToken))
	if err != nil {
		t.Fatalf("GetByFingerprint() error = %v", err)
	}
	if record.Fingerprint == mail.RawToken {
		t.Error("raw token persisted")
	}
	if record.UserID != user.ID {
		t.Errorf("token stored for user %q, want %q", record.UserID, user.ID)
	}
	if _, err := h.resets.GetByFingerprint(context.Background(), mail.RawToken); !store.IsNotFound(err) {
		t.Error("record resolvable by raw token")
	}
}

func TestRequestReset_SupersedesPriorToken(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	first := h.mailer.waitForMail(t)

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	second := h.mailer.waitForMail(t)

	// The superseded token no longer verifies.
	req := httptest.NewRequest(http.MethodGet, "/reset/verify?token="+first.RawToken, nil)
	w := httptest.NewRecorder()
	h.handler.VerifyToken(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("superseded token verify status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/reset/verify?token="+second.RawToken, nil)
	w = httptest.NewRecorder()
	h.handler.VerifyToken(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("live token verify status = %d, want 200", w.Code)
	}
}

func TestRequestReset_MalformedInput(t *testing.T) {
	h := setupResetHarness(t, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"email": `},
		{"missing email", `{}`},
		{"not an email", `{"email": "no-at-sign"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/reset/request", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.handler.RequestReset(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestRequestReset_IPRateLimit(t *testing.T) {
	h := setupResetHarness(t, testConfig())

	// 10/min per IP: the 11th request within the window trips the limit.
	var w *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		w = postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "ghost@example.com"}, "203.0.113.7")
	}

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request status = %d, want 429", w.Code)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header missing or invalid: %q", w.Header().Get("Retry-After"))
	}
	if retryAfter < 0 || retryAfter > 60 {
		t.Errorf("Retry-After = %d, want within the 60s window", retryAfter)
	}

	// A different IP is its own identity and sails through.
	w = postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "ghost@example.com"}, "203.0.113.8")
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", w.Code)
	}
}

func TestRequestReset_EmailRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestEmail = config.RateLimitBucket{Limit: 2, WindowSeconds: 3600}
	h := setupResetHarness(t, cfg)

	// Distinct IPs so only the email bucket can trip; case variants share
	// one counter.
	emails := []string{"Trader@example.com", "trader@EXAMPLE.com", "trader@example.com"}
	var w *httptest.ResponseRecorder
	for i, email := range emails {
		w = postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: email}, "203.0.113."+strconv.Itoa(i+1))
	}

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request for same email status = %d, want 429", w.Code)
	}
}

func TestVerifyToken(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	mail := h.mailer.waitForMail(t)

	tampered := mail.RawToken[:63] + "0"
	if tampered == mail.RawToken {
		tampered = mail.RawToken[:63] + "1"
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantValid  bool
	}{
		{"correct token", "?token=" + mail.RawToken, http.StatusOK, true},
		{"tampered token", "?token=" + tampered, http.StatusBadRequest, false},
		{"unknown token", "?token=deadbeef", http.StatusBadRequest, false},
		{"missing token", "", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/reset/verify"+tt.query, nil)
			w := httptest.NewRecorder()
			h.handler.VerifyToken(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp model.VerifyTokenResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", resp.Valid, tt.wantValid)
			}
		})
	}
}

func TestVerifyToken_DoesNotMutateState(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	user := h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	mail := h.mailer.waitForMail(t)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/reset/verify?token="+mail.RawToken, nil)
		h.handler.VerifyToken(httptest.NewRecorder(), req)
	}

	record, err := h.resets.GetByFingerprint(context.Background(), token.Fingerprint(mail.RawToken))
	if err != nil {
		t.Fatalf("GetByFingerprint() error = %v", err)
	}
	if record.Attempts != 0 {
		t.Errorf("verify probes mutated attempt count: %d", record.Attempts)
	}
	if record.UserID != user.ID {
		t.Error("verify probes mutated token state")
	}
}

func TestVerifyToken_ExpiredToken(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	user := h.seedUser(t, "trader@example.com", "OldPassword1")

	// Token already past its TTL; lookup treats it as no token at all.
	now := time.Now()
	record := &model.ResetToken{
		UserID:      user.ID,
		Fingerprint: token.Fingerprint("raw-expired"),
		IssuedAt:    now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Minute),
	}
	if err := h.resets.Put(context.Background(), record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/reset/verify?token=raw-expired", nil)
	w := httptest.NewRecorder()
	h.handler.VerifyToken(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expired token status = %d, want 400", w.Code)
	}
}

func TestConsumeReset_Success_AndReplay(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	mail := h.mailer.waitForMail(t)

	w := postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "BrandNew1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	var resp model.MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if resp.Message != "Password has been reset successfully" {
		t.Errorf("message = %q", resp.Message)
	}

	stored, err := h.users.FindByEmail(context.Background(), "trader@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("BrandNew1")); err != nil {
		t.Error("credential hash not updated to the new password")
	}
	if _, err := h.resets.GetByFingerprint(context.Background(), token.Fingerprint(mail.RawToken)); !store.IsNotFound(err) {
		t.Error("reset token not deleted after consumption")
	}

	// Replaying the consumed token gets the generic invalid response.
	w = postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "AnotherNew1"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("replay status = %d, want 400", w.Code)
	}
}

func TestConsumeReset_WeakPasswordsExhaustAttempts(t *testing.T) {
	h := setupResetHarness(t, testConfig())
	h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	mail := h.mailer.waitForMail(t)

	// Five policy-invalid submissions against a live token.
	var w *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		w = postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "weak"}, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d status = %d, want 400", i+1, w.Code)
		}
	}

	// The 5th response is still the policy message, not the generic one.
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if resp.Message == "Token is invalid or expired" {
		t.Error("5th attempt answered with generic message, want policy violation")
	}

	// 6th attempt with a policy-valid password: token is dead.
	w = postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "StrongEnough1"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("6th attempt status = %d, want 400", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if resp.Message != "Token is invalid or expired" {
		t.Errorf("6th attempt message = %q, want generic invalid", resp.Message)
	}

	// Old credential untouched.
	stored, err := h.users.FindByEmail(context.Background(), "trader@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("OldPassword1")); err != nil {
		t.Error("credential hash changed by exhausted attempts")
	}
	if _, err := h.resets.GetByFingerprint(context.Background(), token.Fingerprint(mail.RawToken)); !store.IsNotFound(err) {
		t.Error("reset token not cleared at attempt cap")
	}
}

func TestConsumeReset_MissingFields(t *testing.T) {
	h := setupResetHarness(t, testConfig())

	tests := []struct {
		name string
		body model.ResetPasswordRequest
	}{
		{"missing token", model.ResetPasswordRequest{NewPassword: "StrongEnough1"}},
		{"missing password", model.ResetPasswordRequest{Token: "sometoken"}},
		{"missing both", model.ResetPasswordRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.handler.ConsumeReset, "/reset/consume", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestConsumeReset_TokenRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.ConsumeToken = config.RateLimitBucket{Limit: 3, WindowSeconds: 900}
	h := setupResetHarness(t, cfg)

	// Unknown token: the per-token bucket still counts every try from any
	// IP, so hammering one token value gets starved out.
	var w *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		w = postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: "guess-me", NewPassword: "StrongEnough1"}, "203.0.113."+strconv.Itoa(i+1))
	}

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("4th try status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

// failingStore wraps a real store and fails credential updates, standing in
// for a downstream credential-store outage.
type failingStore struct {
	store.UserStore
}

func (f *failingStore) UpdateCredentialHash(ctx context.Context, userID, passwordHash string) error {
	return errors.New("credential store unavailable")
}

func TestConsumeReset_CredentialStoreFailure(t *testing.T) {
	cfg := testConfig()
	h := setupResetHarness(t, cfg)
	h.seedUser(t, "trader@example.com", "OldPassword1")

	postJSON(t, h.handler.RequestReset, "/reset/request", model.ForgotPasswordRequest{Email: "trader@example.com"}, "")
	mail := h.mailer.waitForMail(t)

	broken := NewResetHandler(&failingStore{UserStore: h.users}, h.resets, ratelimit.New(ratelimit.NewMemoryCounterStore()), token.NewAuthority(time.Hour), h.mailer, cfg)

	w := postJSON(t, broken.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "BrandNew1"}, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	// State did not transition: the same token still works once the store
	// recovers.
	w = postJSON(t, h.handler.ConsumeReset, "/reset/consume", model.ResetPasswordRequest{Token: mail.RawToken, NewPassword: "BrandNew1"}, "")
	if w.Code != http.StatusOK {
		t.Errorf("retry after outage status = %d, want 200; body %s", w.Code, w.Body.String())
	}
}
