package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/ipfilter"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/ratelimit"
	"github.com/foxzi/hookdesk/internal/repository/memory"
)

const (
	activeSecret   = "active-secret"
	inactiveSecret = "inactive-secret"
)

type fixture struct {
	mem     *memory.DB
	handler *Handler
	metrics *metrics.Metrics
	active  models.WebhookToken
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()

	active := models.WebhookToken{
		ID: "tok-1", Name: "n8n prod", Token: activeSecret,
		IsActive: true, CreatedBy: "user-1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateToken(ctx, &active))
	require.NoError(t, mem.CreateToken(ctx, &models.WebhookToken{
		ID: "tok-2", Name: "old", Token: inactiveSecret,
		IsActive: false, CreatedBy: "user-1", CreatedAt: time.Now().UTC(),
	}))

	m := metrics.New()
	return &fixture{
		mem:     mem,
		handler: NewHandler(mem, mem, opts, m, zap.NewNop()),
		metrics: m,
		active:  active,
	}
}

func (f *fixture) do(method, auth, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/n8n-webhook", strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMissingAuthorization(t *testing.T) {
	f := setup(t, Options{})

	for _, auth := range []string{"", "Basic abc", "bearer " + activeSecret, "Token " + activeSecret} {
		rec := f.do(http.MethodPost, auth, `{"x":1}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
		body := decode(t, rec)
		assert.Equal(t, "Unauthorized", body["error"])
		assert.Equal(t, msgMissingAuth, body["message"])
	}

	assert.Empty(t, f.mem.Logs())
	assert.Zero(t, f.mem.Calls("FindActiveToken"))
}

func TestUnknownOrInactiveToken(t *testing.T) {
	f := setup(t, Options{})

	for _, secret := range []string{"nope", inactiveSecret, ""} {
		rec := f.do(http.MethodPost, "Bearer "+secret, `{"x":1}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, msgInvalidToken, decode(t, rec)["message"])
	}

	assert.Empty(t, f.mem.Logs())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.WebhookRequestsTotal.WithLabelValues(metrics.OutcomeUnauthorized)))
}

func TestLookupErrorIsUnauthorized(t *testing.T) {
	f := setup(t, Options{})
	f.mem.LookupErr = errors.New("connection refused")

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgInvalidToken, decode(t, rec)["message"])
	assert.Empty(t, f.mem.Logs())
}

func TestAcceptsWithCallerExecutionID(t *testing.T) {
	f := setup(t, Options{})

	payload := `{"execution_id":"abc-123","x":1}`
	rec := f.do(http.MethodPost, "Bearer "+activeSecret, payload)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, msgReceived, body["message"])
	assert.Equal(t, "abc-123", body["execution_id"])

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	row := logs[0]
	assert.Equal(t, "abc-123", row.ExecutionID)
	assert.Equal(t, models.LogStatusSuccess, row.Status)
	require.NotNil(t, row.WebhookTokenID)
	assert.Equal(t, "tok-1", *row.WebhookTokenID)
	require.NotNil(t, row.UserID)
	assert.Equal(t, "user-1", *row.UserID)
	assert.JSONEq(t, payload, row.RequestData.String())
	assert.Nil(t, row.IPAddress)
	assert.False(t, row.ExecutionTimestamp.IsZero())
}

func TestGeneratesExecutionID(t *testing.T) {
	f := setup(t, Options{})

	for _, payload := range []string{`{"x":1}`, `{"execution_id":42}`, `{"execution_id":""}`, `[1,2,3]`, `"plain"`} {
		rec := f.do(http.MethodPost, "Bearer "+activeSecret, payload)
		require.Equal(t, http.StatusOK, rec.Code, payload)

		id, _ := decode(t, rec)["execution_id"].(string)
		_, err := uuid.Parse(id)
		assert.NoError(t, err, payload)

		logs := f.mem.Logs()
		assert.Equal(t, id, logs[len(logs)-1].ExecutionID)
	}
}

func TestDeactivatedTokenRejected(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.mem.SetTokenActive(ctx, f.active.ID, false))

	rec = f.do(http.MethodPost, "Bearer "+activeSecret, `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgInvalidToken, decode(t, rec)["message"])
	assert.Len(t, f.mem.Logs(), 1)
}

func TestOptionsNeverLogs(t *testing.T) {
	f := setup(t, Options{})
	before := f.mem.TotalCalls()

	for _, auth := range []string{"", "Bearer " + activeSecret, "Bearer wrong"} {
		rec := f.do(http.MethodOptions, auth, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "authorization")
	}

	assert.Empty(t, f.mem.Logs())
	assert.Equal(t, before, f.mem.TotalCalls())
}

func TestMethodNotAllowed(t *testing.T) {
	f := setup(t, Options{})
	before := f.mem.TotalCalls()

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := f.do(method, "Bearer "+activeSecret, `{}`)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "Method Not Allowed", decode(t, rec)["error"])
	}

	assert.Equal(t, before, f.mem.TotalCalls())
}

func TestLogWriteFailureStillAccepts(t *testing.T) {
	f := setup(t, Options{})
	f.mem.InsertLogErr = errors.New("disk full")

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{"execution_id":"e-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "e-1", decode(t, rec)["execution_id"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookLogWriteFailuresTotal.WithLabelValues(models.LogStatusSuccess)))
}

func TestInvalidJSONLogsError(t *testing.T) {
	f := setup(t, Options{})

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{not json`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Contains(t, body["message"], "invalid JSON")

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	row := logs[0]
	assert.Equal(t, models.LogStatusError, row.Status)
	assert.Equal(t, "tok-1", *row.WebhookTokenID)
	_, err := uuid.Parse(row.ExecutionID)
	assert.NoError(t, err)

	var data map[string]string
	require.NoError(t, json.Unmarshal(row.RequestData, &data))
	assert.Contains(t, data["error"], "invalid JSON")
}

func TestBodyTooLarge(t *testing.T) {
	f := setup(t, Options{MaxBodyBytes: 16})

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{"payload":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusError, logs[0].Status)
}

// panicOnSuccess panics on the first success row and stores everything else
type panicOnSuccess struct {
	*memory.DB
}

func (p panicOnSuccess) InsertLog(ctx context.Context, l *models.WebhookLog) error {
	if l.Status == models.LogStatusSuccess {
		panic("log store exploded")
	}
	return p.DB.InsertLog(ctx, l)
}

func TestPanicKeepsCallerExecutionID(t *testing.T) {
	f := setup(t, Options{})
	f.handler = NewHandler(f.mem, panicOnSuccess{f.mem}, Options{}, nil, zap.NewNop())

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{"execution_id":"keep-me"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "log store exploded", decode(t, rec)["message"])

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "keep-me", logs[0].ExecutionID)
	assert.Equal(t, models.LogStatusError, logs[0].Status)
	assert.JSONEq(t, `{"error":"log store exploded"}`, logs[0].RequestData.String())
}

// brokenWriter counts status lines and fails every body write
type brokenWriter struct {
	header  http.Header
	headers int
}

func (b *brokenWriter) Header() http.Header { return b.header }

func (b *brokenWriter) WriteHeader(int) { b.headers++ }

func (b *brokenWriter) Write([]byte) (int, error) {
	panic("connection reset")
}

func TestPanicAfterResponseStarted(t *testing.T) {
	f := setup(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/n8n-webhook", strings.NewReader(`{"execution_id":"sent"}`))
	req.Header.Set("Authorization", "Bearer "+activeSecret)
	w := &brokenWriter{header: http.Header{}}
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, 1, w.headers)

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "sent", logs[0].ExecutionID)
	assert.Equal(t, models.LogStatusSuccess, logs[0].Status)
}

func TestForwardedForFirstHop(t *testing.T) {
	f := setup(t, Options{})

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{}`,
		"X-Forwarded-For", " 203.0.113.7 , 10.0.0.1, 10.0.0.2")
	require.Equal(t, http.StatusOK, rec.Code)

	logs := f.mem.Logs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].IPAddress)
	assert.Equal(t, "203.0.113.7", *logs[0].IPAddress)
}

func TestEnforceExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour).UTC()

	blind := setup(t, Options{})
	blind.mem.CreateToken(context.Background(), &models.WebhookToken{
		ID: "tok-exp", Token: "expired", IsActive: true, ExpiresAt: &past,
	})
	assert.Equal(t, http.StatusOK, blind.do(http.MethodPost, "Bearer expired", `{}`).Code)

	strict := setup(t, Options{EnforceExpiry: true})
	strict.mem.CreateToken(context.Background(), &models.WebhookToken{
		ID: "tok-exp", Token: "expired", IsActive: true, ExpiresAt: &past,
	})
	rec := strict.do(http.MethodPost, "Bearer expired", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, strict.mem.Logs())

	assert.Equal(t, http.StatusOK, strict.do(http.MethodPost, "Bearer "+activeSecret, `{}`).Code)
}

func newLimiter(t *testing.T, cfg *ratelimit.Config) *ratelimit.Limiter {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "ratelimit.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := ratelimit.NewLimiter(db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Stop() })
	return l
}

func TestRateLimitPerToken(t *testing.T) {
	limiter := newLimiter(t, &ratelimit.Config{
		PerToken: &ratelimit.LimitConfig{RequestsPerMinute: 2},
	})
	f := setup(t, Options{Limiter: limiter})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "Bearer "+activeSecret, `{}`).Code)
	}

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too Many Requests", decode(t, rec)["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, f.mem.Logs(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitExceededTotal.WithLabelValues(string(ratelimit.LevelToken))))
}

func TestRateLimitPerIPBeforeLookup(t *testing.T) {
	limiter := newLimiter(t, &ratelimit.Config{
		PerIP: &ratelimit.LimitConfig{RequestsPerMinute: 1},
	})
	f := setup(t, Options{Limiter: limiter})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "Bearer wrong", `{}`).Code)

	rec := f.do(http.MethodPost, "Bearer "+activeSecret, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, f.mem.Calls("FindActiveToken"))
	assert.Empty(t, f.mem.Logs())
}

func TestRateLimitPerIPForwardedFor(t *testing.T) {
	perIP := &ratelimit.Config{PerIP: &ratelimit.LimitConfig{RequestsPerMinute: 1}}

	t.Run("untrusted peer cannot rotate the key", func(t *testing.T) {
		f := setup(t, Options{Limiter: newLimiter(t, perIP)})

		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "Bearer wrong", `{}`, "X-Forwarded-For", "203.0.113.1").Code)
		assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "Bearer wrong", `{}`, "X-Forwarded-For", "203.0.113.2").Code)
	})

	t.Run("trusted proxy forwards distinct clients", func(t *testing.T) {
		proxies := ipfilter.NewProxies([]string{"192.0.2.0/24"}, zap.NewNop())
		f := setup(t, Options{Limiter: newLimiter(t, perIP), Proxies: proxies})

		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "Bearer wrong", `{}`, "X-Forwarded-For", "203.0.113.1").Code)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "Bearer wrong", `{}`, "X-Forwarded-For", "203.0.113.2").Code)
		assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "Bearer wrong", `{}`, "X-Forwarded-For", "203.0.113.2").Code)
	})
}
