// Package webhook implements the bearer-authenticated ingestion endpoint that
// n8n workflows post execution results to.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/ipfilter"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/ratelimit"
	"github.com/foxzi/hookdesk/internal/repository"
)

const (
	msgMissingAuth  = "Missing or invalid authorization header"
	msgInvalidToken = "Invalid or inactive token"
	msgReceived     = "Webhook received successfully"
)

// Limiter is the subset of ratelimit.Limiter the handler needs
type Limiter interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// Options tune the handler. The zero value accepts expired tokens, applies
// no rate limit and does not cap the body.
type Options struct {
	EnforceExpiry bool
	MaxBodyBytes  int64
	Limiter       Limiter
	// Proxies decide which peers may set the rate limit address through
	// forwarding headers. Nil keys on the TCP peer.
	Proxies *ipfilter.Proxies
}

// Handler serves OPTIONS and POST on the ingestion path
type Handler struct {
	tokens  repository.TokenStore
	logs    repository.LogStore
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewHandler(tokens repository.TokenStore, logs repository.LogStore, opts Options, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		tokens:  tokens,
		logs:    logs,
		opts:    opts,
		metrics: m,
		logger:  logger.With(zap.String("component", "webhook")),
		now:     time.Now,
	}
}

type successResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ExecutionID string `json:"execution_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		h.metrics.IncWebhookRequest(metrics.OutcomePreflight)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.metrics.IncWebhookRequest(metrics.OutcomeMethodNotAllowed)
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error:   "Method Not Allowed",
			Message: fmt.Sprintf("method %s is not supported", r.Method),
		})
		return
	}

	bearer, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		h.unauthorized(w, msgMissingAuth)
		return
	}

	ip := h.clientIP(r)
	if !h.allow(r.Context(), w, &ratelimit.Request{IP: ip}) {
		return
	}

	token, err := h.tokens.FindActiveToken(r.Context(), bearer)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			h.logger.Warn("token lookup failed", zap.Error(err))
		}
		h.unauthorized(w, msgInvalidToken)
		return
	}
	if h.opts.EnforceExpiry && token.Expired(h.now()) {
		h.unauthorized(w, msgInvalidToken)
		return
	}

	if !h.allow(r.Context(), w, &ratelimit.Request{Token: token.ID}) {
		return
	}

	h.ingest(w, r, token)
}

// ingest runs after authentication. Any failure here, including a panic,
// is logged with status "error" and answered with 500.
func (h *Handler) ingest(rw http.ResponseWriter, r *http.Request, token *models.WebhookToken) {
	var executionID string
	w := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic in webhook handler",
				zap.Any("panic", rec),
				zap.String("execution_id", executionID),
				zap.Stack("stack"),
			)
			// nothing more can be sent once the status line is out
			if w.Status() != 0 {
				return
			}
			h.fail(w, r, token, executionID, fmt.Sprint(rec))
		}
	}()

	body := r.Body
	if h.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		h.fail(w, r, token, "", err.Error())
		return
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.fail(w, r, token, "", "invalid JSON body: "+err.Error())
		return
	}

	if obj, ok := payload.(map[string]any); ok {
		if id, ok := obj["execution_id"].(string); ok {
			executionID = id
		}
	}
	if executionID == "" {
		executionID = uuid.New().String()
	}

	h.writeLog(r, token, executionID, models.LogStatusSuccess, models.JSON(raw))

	h.metrics.IncWebhookRequest(metrics.OutcomeAccepted)
	h.logger.Debug("webhook received",
		zap.String("execution_id", executionID),
		zap.String("token_id", token.ID),
	)
	writeJSON(w, http.StatusOK, successResponse{
		Success:     true,
		Message:     msgReceived,
		ExecutionID: executionID,
	})
}

// fail writes the error log row and the 500 response. executionID is kept
// when the caller's id was already parsed.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, token *models.WebhookToken, executionID, message string) {
	if executionID == "" {
		executionID = uuid.New().String()
	}

	data, _ := json.Marshal(map[string]string{"error": message})
	h.writeLog(r, token, executionID, models.LogStatusError, data)

	h.metrics.IncWebhookRequest(metrics.OutcomeError)
	h.logger.Warn("webhook failed",
		zap.String("execution_id", executionID),
		zap.String("token_id", token.ID),
		zap.String("error", message),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "Internal Server Error",
		Message: message,
	})
}

// writeLog inserts a log row. Failures are reported and swallowed.
func (h *Handler) writeLog(r *http.Request, token *models.WebhookToken, executionID, status string, data models.JSON) {
	entry := &models.WebhookLog{
		ID:                 uuid.New().String(),
		ExecutionID:        executionID,
		WebhookTokenID:     &token.ID,
		UserID:             nullable(token.CreatedBy),
		RequestData:        data,
		IPAddress:          forwardedFor(r),
		Status:             status,
		ExecutionTimestamp: h.now().UTC(),
	}

	if err := h.logs.InsertLog(r.Context(), entry); err != nil {
		h.metrics.IncLogWriteFailure(status)
		h.logger.Error("failed to write webhook log",
			zap.String("execution_id", executionID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, req *ratelimit.Request) bool {
	if h.opts.Limiter == nil {
		return true
	}

	res, err := h.opts.Limiter.Allow(ctx, req)
	if err != nil {
		h.logger.Warn("rate limit check failed", zap.Error(err))
		return true
	}
	if res.Allowed {
		return true
	}

	h.metrics.IncWebhookRequest(metrics.OutcomeRateLimited)
	h.metrics.IncRateLimitExceeded(string(res.DeniedBy))
	if secs := int(res.RetryAfter.Seconds()); secs > 0 {
		w.Header().Set("Retry-After", fmt.Sprint(secs))
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:   "Too Many Requests",
		Message: fmt.Sprintf("rate limit exceeded for %s", res.DeniedBy),
	})
	return false
}

func (h *Handler) unauthorized(w http.ResponseWriter, message string) {
	h.metrics.IncWebhookRequest(metrics.OutcomeUnauthorized)
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error:   "Unauthorized",
		Message: message,
	})
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// forwardedFor returns the first X-Forwarded-For hop, or nil
func forwardedFor(r *http.Request) *string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	first := strings.TrimSpace(strings.Split(xff, ",")[0])
	if first == "" {
		return nil
	}
	return &first
}

// clientIP is the rate limit key
func (h *Handler) clientIP(r *http.Request) string {
	if ip := h.opts.Proxies.ClientIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
