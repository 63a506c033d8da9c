package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Yutman/Nexus-Trade/config"
	"github.com/Yutman/Nexus-Trade/model"
	"github.com/Yutman/Nexus-Trade/ratelimit"
	"github.com/Yutman/Nexus-Trade/store"
	"github.com/Yutman/Nexus-Trade/token"
	"github.com/Yutman/Nexus-Trade/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const genericRequestMessage = "If an account exists, a reset link will be sent."
const genericInvalidTokenMessage = "Token is invalid or expired"

// Rate limit bucket names. IP buckets are always checked before
// email/token buckets; the first exceeded bucket short-circuits.
const (
	bucketRequestIP    = "reset:req:ip"
	bucketRequestEmail = "reset:req:email"
	bucketVerifyIP     = "reset:verify:ip"
	bucketConsumeIP    = "reset:consume:ip"
	bucketConsumeToken = "reset:consume:token"
)

// ResetMailer delivers the reset link. Delivery runs after the token state
// is committed and its failure never rolls issuance back.
type ResetMailer interface {
	SendPasswordReset(toEmail, rawToken string) error
}

// ResetHandler orchestrates the password reset flow: request, verify,
// consume. It owns the reset token state machine; users and mail are
// external collaborators.
type ResetHandler struct {
	users   store.UserStore
	resets  store.ResetStore
	limiter *ratelimit.Limiter
	tokens  *token.Authority
	mailer  ResetMailer
	config  config.Config
}

// NewResetHandler creates a new reset flow handler
func NewResetHandler(users store.UserStore, resets store.ResetStore, limiter *ratelimit.Limiter, tokens *token.Authority, mailer ResetMailer, cfg config.Config) *ResetHandler {
	return &ResetHandler{
		users:   users,
		resets:  resets,
		limiter: limiter,
		tokens:  tokens,
		mailer:  mailer,
		config:  cfg,
	}
}

// RequestReset handles POST /reset/request
// @Summary Request a password reset link
// @Description Always responds with a generic message so account existence is never revealed
// @Tags Reset
// @Accept json
// @Produce json
// @Param request body model.ForgotPasswordRequest true "Account email"
// @Success 200 {object} model.MessageResponse "Generic acknowledgement"
// @Failure 400 {object} ErrorResponse "Malformed input"
// @Failure 429 {object} ErrorResponse "Rate limited (Retry-After header set)"
// @Router /reset/request [post]
func (h *ResetHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()

	var req model.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendJSONError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		SendJSONError(w, http.StatusBadRequest, utils.ErrInvalidRequest, "Email is required")
		return
	}

	ip := getIPAddress(r)
	if h.limited(ctx, w, bucketRequestIP, ip, h.config.RateLimit.RequestIP) {
		return
	}
	if h.limited(ctx, w, bucketRequestEmail, email, h.config.RateLimit.RequestEmail) {
		return
	}

	// Everything below is enumeration-sensitive: any failure degrades to
	// the same generic acknowledgement the unknown-account path gets.
	h.issueToken(ctx, email)

	SendJSONSuccess(w, http.StatusOK, model.MessageResponse{Message: genericRequestMessage})
}

// issueToken generates, stores and mails a reset token if the email maps to
// an active account. A token is generated either way so both branches cost
// the same.
func (h *ResetHandler) issueToken(ctx context.Context, email string) {
	issued, err := h.tokens.Issue()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate reset token")
		return
	}

	user, err := h.users.FindByEmail(ctx, email)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Error().Err(err).Msg("Failed to look up account for reset request")
		}
		return
	}
	if !user.Active {
		log.Info().Str("userID", user.ID).Msg("Reset requested for inactive account - no token issued")
		return
	}

	// Overwrites any prior token: at most one live token per account.
	record := &model.ResetToken{
		UserID:      user.ID,
		Fingerprint: issued.Fingerprint,
		IssuedAt:    time.Now(),
		ExpiresAt:   issued.ExpiresAt,
	}
	if err := h.resets.Put(ctx, record); err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to store reset token")
		return
	}

	log.Info().
		Str("userID", user.ID).
		Time("expiresAt", issued.ExpiresAt).
		Msg("Reset token issued")

	// Fire-and-forget: the token above is already durable and stays valid
	// even if delivery fails.
	go func(to, raw string) {
		if err := h.mailer.SendPasswordReset(to, raw); err != nil {
			log.Error().Err(err).Msg("Failed to send reset email")
		}
	}(user.Email, issued.Raw)
}

// VerifyToken handles GET /reset/verify?token=<raw>
// @Summary Verify a reset token
// @Description Read-only probe used to decide whether to show the reset form; mutates nothing
// @Tags Reset
// @Produce json
// @Param token query string true "Raw reset token"
// @Success 200 {object} model.VerifyTokenResponse "Token is valid"
// @Failure 400 {object} model.VerifyTokenResponse "Token missing, invalid or expired"
// @Failure 429 {object} ErrorResponse "Rate limited (Retry-After header set)"
// @Router /reset/verify [get]
func (h *ResetHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()

	raw := r.URL.Query().Get("token")
	if raw == "" {
		SendJSONSuccess(w, http.StatusBadRequest, model.VerifyTokenResponse{Valid: false, Message: "Invalid token"})
		return
	}

	if h.limited(ctx, w, bucketVerifyIP, getIPAddress(r), h.config.RateLimit.VerifyIP) {
		return
	}

	if _, ok := h.lookupLiveToken(ctx, raw); !ok {
		SendJSONSuccess(w, http.StatusBadRequest, model.VerifyTokenResponse{Valid: false, Message: genericInvalidTokenMessage})
		return
	}

	SendJSONSuccess(w, http.StatusOK, model.VerifyTokenResponse{Valid: true})
}

// ConsumeReset handles POST /reset/consume
// @Summary Consume a reset token and set a new password
// @Tags Reset
// @Accept json
// @Produce json
// @Param request body model.ResetPasswordRequest true "Raw token and new password"
// @Success 200 {object} model.MessageResponse "Password reset"
// @Failure 400 {object} ErrorResponse "Missing fields, weak password, or invalid/expired token"
// @Failure 429 {object} ErrorResponse "Rate limited (Retry-After header set)"
// @Failure 500 {object} ErrorResponse "Credential store update failed"
// @Router /reset/consume [post]
func (h *ResetHandler) ConsumeReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()

	var req model.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendJSONError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		SendJSONError(w, http.StatusBadRequest, utils.ErrInvalidRequest, "Token and password are required")
		return
	}

	if h.limited(ctx, w, bucketConsumeIP, getIPAddress(r), h.config.RateLimit.ConsumeIP) {
		return
	}
	// The token bucket is keyed by the fingerprint so raw secrets never
	// appear in counter keys.
	fingerprint := token.Fingerprint(req.Token)
	if h.limited(ctx, w, bucketConsumeToken, fingerprint, h.config.RateLimit.ConsumeToken) {
		return
	}

	record, ok := h.lookupLiveToken(ctx, req.Token)
	if !ok {
		SendJSONError(w, http.StatusBadRequest, utils.ErrTokenInvalidOrExpired, genericInvalidTokenMessage)
		return
	}

	if err := utils.ValidatePassword(req.NewPassword, h.config.Password); err != nil {
		h.recordFailedAttempt(ctx, record)
		SendJSONError(w, http.StatusBadRequest, utils.ErrPolicyViolation, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash new password")
		SendJSONError(w, http.StatusInternalServerError, utils.ErrDownstreamFailure, "Failed to reset password")
		return
	}

	// The token stays live if the credential update fails, so the user can
	// retry with the same link.
	if err := h.users.UpdateCredentialHash(ctx, record.UserID, string(hash)); err != nil {
		log.Error().Err(err).Str("userID", record.UserID).Msg("Failed to update credential hash")
		SendJSONError(w, http.StatusInternalServerError, utils.ErrDownstreamFailure, "Failed to reset password")
		return
	}

	if err := h.resets.Delete(ctx, record.Fingerprint, record.UserID); err != nil {
		// Credential already rotated; the token key TTL still bounds the
		// leftover record.
		log.Error().Err(err).Str("userID", record.UserID).Msg("Failed to delete reset token after consumption")
	}

	log.Info().Str("userID", record.UserID).Msg("Password reset completed")
	SendJSONSuccess(w, http.StatusOK, model.MessageResponse{Message: "Password has been reset successfully"})
}

// lookupLiveToken resolves a raw token to its live record and enforces
// fingerprint match plus expiry. Unknown, consumed, superseded, exhausted
// and expired tokens are indistinguishable to callers.
func (h *ResetHandler) lookupLiveToken(ctx context.Context, raw string) (*model.ResetToken, bool) {
	record, err := h.resets.GetByFingerprint(ctx, token.Fingerprint(raw))
	if err != nil {
		if !store.IsNotFound(err) {
			log.Error().Err(err).Msg("Failed to look up reset token")
		}
		return nil, false
	}

	if record.Attempts >= h.config.Reset.MaxAttempts {
		return nil, false
	}
	if !h.tokens.Verify(raw, record.Fingerprint, record.ExpiresAt) {
		return nil, false
	}

	return record, true
}

// recordFailedAttempt counts a policy-invalid submission against the live
// token and kills the token at the attempt cap. Two racing submissions can
// both pass the cap check before either increments; the overshoot is
// bounded by the concurrency degree and the token dies on the next lookup.
func (h *ResetHandler) recordFailedAttempt(ctx context.Context, record *model.ResetToken) {
	attempts, err := h.resets.IncrementAttempts(ctx, record.Fingerprint)
	if err != nil {
		log.Error().Err(err).Str("userID", record.UserID).Msg("Failed to record reset attempt")
		return
	}

	if attempts >= h.config.Reset.MaxAttempts {
		if err := h.resets.Delete(ctx, record.Fingerprint, record.UserID); err != nil {
			log.Error().Err(err).Str("userID", record.UserID).Msg("Failed to clear reset token at attempt cap")
			return
		}
		log.Warn().Str("userID", record.UserID).Int("attempts", attempts).Msg("Reset attempts exhausted - token cleared")
	}
}

// limited runs one fixed-window check and writes the 429 response when the
// bucket is exceeded. Limiter backend errors fail open: throttling degrades,
// the flow does not.
func (h *ResetHandler) limited(ctx context.Context, w http.ResponseWriter, bucket, identity string, b config.RateLimitBucket) bool {
	result, err := h.limiter.Check(ctx, bucket, identity, b.Limit, time.Duration(b.WindowSeconds)*time.Second)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Msg("Rate limit check failed - allowing request")
		return false
	}

	if result.Limited {
		log.Warn().
			Str("bucket", bucket).
			Int("reset_after", result.ResetAfterSeconds).
			Msg("Rate limit exceeded")
		SendJSONRateLimited(w, utils.ErrRateLimited, result.ResetAfterSeconds)
		return true
	}

	return false
}

func (h *ResetHandler) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := time.Duration(h.config.Redis.OperationTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

// getIPAddress extracts the client IP, preferring proxy headers.
func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
