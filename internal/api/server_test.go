package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/auth"
	"github.com/foxzi/hookdesk/internal/chat"
	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/ratelimit"
	"github.com/foxzi/hookdesk/internal/repository/memory"
	"github.com/foxzi/hookdesk/internal/tokens"
	"github.com/foxzi/hookdesk/internal/viewer"
	"github.com/foxzi/hookdesk/internal/webhook"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	server   *Server
	mem      *memory.DB
	sessions map[string]string // role -> bearer token
	users    map[string]*models.User
}

type stubCompleter struct {
	err error
}

func (c stubCompleter) Complete(ctx context.Context, model string, messages []chat.Message) (*chat.Completion, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &chat.Completion{Content: "pong", Model: model, Usage: chat.Usage{TotalTokens: 3}}, nil
}

type stubLimits struct{}

func (stubLimits) GetStats(ctx context.Context, level ratelimit.Level, key string) (*ratelimit.Stats, error) {
	return &ratelimit.Stats{Level: level, Key: key, MinuteCount: 4, HourlyCount: 9}, nil
}

func setupTestServer(t *testing.T, completer chat.Completer) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	mem := memory.New()
	m := metrics.New()

	recorder := audit.NewRecorder(mem, m, logger)
	authSvc := auth.NewService(mem, recorder, auth.NewTokenManager(testSecret, time.Hour), logger)

	env := &testEnv{
		mem:      mem,
		sessions: make(map[string]string),
		users:    make(map[string]*models.User),
	}
	for _, role := range []string{models.RoleOwner, models.RoleAdmin, models.RoleMember} {
		u, err := authSvc.CreateUser(ctx, role+"@example.com", role, "pw-"+role, role)
		require.NoError(t, err)
		session, err := authSvc.Login(ctx, u.Email, "pw-"+role)
		require.NoError(t, err)
		env.users[role] = u
		env.sessions[role] = session.Token
	}

	deps := Deps{
		Auth:       authSvc,
		Tokens:     tokens.NewService(mem, mem, recorder, m, logger),
		Viewer:     viewer.NewService(mem, mem, mem, mem, logger),
		Chat:       chat.NewService(mem, completer, "test-model", time.Second, m, logger),
		Webhook:    webhook.NewHandler(mem, mem, webhook.Options{}, m, logger),
		RateLimits: stubLimits{},
		Metrics:    m,
	}
	cfg := &config.ServerConfig{ListenAddr: ":0", CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}}
	env.server = NewServer(cfg, "/n8n-webhook", deps, "test", logger)
	return env
}

func (e *testEnv) request(method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := e.sessions[role]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "admin@example.com", Password: "pw-admin"})
	require.Equal(t, http.StatusOK, w.Code)
	session := decodeBody[auth.Session](t, w)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, models.RoleAdmin, session.User.Role)

	w = env.request(http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "admin@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, decodeBody[ErrorResponse](t, w).Code)
}

func TestMeRequiresSession(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(http.MethodGet, "/api/v1/auth/me", models.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "member@example.com", decodeBody[models.User](t, w).Email)
}

func TestOIDCDisabled(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/api/v1/auth/oidc/login", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokenLifecycleEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodPost, "/api/v1/webhook-tokens", models.RoleAdmin, tokens.CreateTokenInput{Name: "n8n", ExpiresInDays: 7})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[models.WebhookToken](t, w)
	assert.Len(t, created.Token, 96)
	require.NotNil(t, created.ExpiresAt)

	w = env.request(http.MethodGet, "/api/v1/webhook-tokens", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[ListResponse[models.WebhookToken]](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, created.ID, list.Items[0].ID)

	w = env.request(http.MethodPost, "/api/v1/webhook-tokens/"+created.ID+"/toggle", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[models.WebhookToken](t, w).IsActive)

	w = env.request(http.MethodDelete, "/api/v1/webhook-tokens/"+created.ID, models.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(http.MethodDelete, "/api/v1/webhook-tokens/"+created.ID, models.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeBody[ErrorResponse](t, w).Code)

	var actions []string
	for _, e := range env.mem.AuditEntries() {
		actions = append(actions, e.Action)
		assert.Equal(t, env.users[models.RoleAdmin].ID, e.Actor)
		assert.Equal(t, "admin@example.com", e.ActorEmail)
	}
	assert.Equal(t, []string{tokens.ActionCreateToken, tokens.ActionDisableToken, tokens.ActionDeleteToken}, actions)
}

func TestCreateTokenValidation(t *testing.T) {
	env := setupTestServer(t, nil)
	before := env.mem.TotalCalls()

	w := env.request(http.MethodPost, "/api/v1/webhook-tokens", models.RoleAdmin, tokens.CreateTokenInput{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeValidation, decodeBody[ErrorResponse](t, w).Code)

	w = env.request(http.MethodPost, "/api/v1/webhook-keys", models.RoleAdmin, tokens.CreateKeyInput{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, before, env.mem.TotalCalls())
}

func TestKeyEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodPost, "/api/v1/webhook-keys", models.RoleOwner, tokens.CreateKeyInput{Name: "signing"})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decodeBody[models.WebhookKey](t, w)

	w = env.request(http.MethodPost, "/api/v1/webhook-keys/"+key.ID+"/toggle", models.RoleOwner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.request(http.MethodPost, "/api/v1/webhook-keys/"+key.ID+"/toggle", models.RoleOwner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[models.WebhookKey](t, w).IsActive)

	w = env.request(http.MethodGet, "/api/v1/webhook-keys", models.RoleOwner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[ListResponse[models.WebhookKey]](t, w).Total)

	w = env.request(http.MethodDelete, "/api/v1/webhook-keys/"+key.ID, models.RoleOwner, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRoleEnforcement(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/api/v1/webhook-tokens", models.RoleMember, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(http.MethodGet, "/api/v1/audit-logs", models.RoleMember, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(http.MethodGet, "/api/v1/webhook-logs", models.RoleMember, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(http.MethodGet, "/api/v1/webhook-tokens", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	member := env.users[models.RoleMember]
	w = env.request(http.MethodPut, "/api/v1/users/"+member.ID+"/role", models.RoleAdmin, SetRoleRequest{Role: models.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSetUserRole(t *testing.T) {
	env := setupTestServer(t, nil)
	member := env.users[models.RoleMember]

	w := env.request(http.MethodPut, "/api/v1/users/"+member.ID+"/role", models.RoleOwner, SetRoleRequest{Role: models.RoleAdmin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleAdmin, decodeBody[models.User](t, w).Role)

	w = env.request(http.MethodPut, "/api/v1/users/"+member.ID+"/role", models.RoleOwner, SetRoleRequest{Role: "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	owner := env.users[models.RoleOwner]
	w = env.request(http.MethodPut, "/api/v1/users/"+owner.ID+"/role", models.RoleOwner, SetRoleRequest{Role: models.RoleMember})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeValidation, decodeBody[ErrorResponse](t, w).Code)

	w = env.request(http.MethodGet, "/api/v1/users", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decodeBody[ListResponse[models.User]](t, w).Total)
}

func TestDemotionAppliesToOpenSession(t *testing.T) {
	env := setupTestServer(t, nil)
	admin := env.users[models.RoleAdmin]

	w := env.request(http.MethodPost, "/api/v1/webhook-tokens", models.RoleAdmin, tokens.CreateTokenInput{Name: "before"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(http.MethodPut, "/api/v1/users/"+admin.ID+"/role", models.RoleOwner, SetRoleRequest{Role: models.RoleMember})
	require.Equal(t, http.StatusOK, w.Code)

	// same session token as before the role change
	w = env.request(http.MethodPost, "/api/v1/webhook-tokens", models.RoleAdmin, tokens.CreateTokenInput{Name: "after"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request(http.MethodGet, "/api/v1/auth/me", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleMember, decodeBody[models.User](t, w).Role)
}

func TestWebhookThroughRouter(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, env.mem.CreateToken(ctx, &models.WebhookToken{
		ID: "tok-1", Name: "n8n", Token: "secret", IsActive: true,
		CreatedBy: env.users[models.RoleAdmin].ID, CreatedAt: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodOptions, "/n8n-webhook", nil)
	req.Header.Set("Origin", "https://n8n.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodPost, "/n8n-webhook", bytes.NewBufferString(`{"execution_id":"abc-123"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(http.MethodGet, "/api/v1/webhook-logs?limit=10", models.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[viewer.LogPage](t, w)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "abc-123", page.Logs[0].ExecutionID)
	assert.Equal(t, "n8n", page.Logs[0].TokenName)
	assert.Equal(t, "admin@example.com", page.Logs[0].UserEmail)

	w = env.request(http.MethodGet, "/api/v1/webhook-logs/stats?days=1", models.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[models.WebhookLogStats](t, w).Total)
}

func TestListQueryValidation(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/api/v1/webhook-logs?limit=abc", models.RoleMember, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/audit-logs?offset=-1", models.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/audit-logs?limit=500&entity_table=webhook_tokens", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, viewer.MaxLimit, decodeBody[viewer.AuditPage](t, w).Limit)
}

func TestRateLimitStatsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.request(http.MethodGet, "/api/v1/rate-limits/token/tok-1", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[RateLimitStatsResponse](t, w)
	assert.Equal(t, 4, resp.MinuteCount)
	assert.Equal(t, 9, resp.HourlyCount)

	w = env.request(http.MethodGet, "/api/v1/rate-limits/domain/x", models.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletionEndpoint(t *testing.T) {
	env := setupTestServer(t, stubCompleter{})

	body := chat.Request{SolutionID: "s1", Messages: []chat.Message{{Role: chat.RoleUser, Content: "ping"}}}
	w := env.request(http.MethodPost, "/chat-completions", models.RoleMember, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody[chat.Completion](t, w)
	assert.Equal(t, "pong", result.Content)
	assert.Equal(t, "test-model", result.Model)

	record, err := env.mem.GetChat(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, env.users[models.RoleMember].ID, record.UserID)

	w = env.request(http.MethodPost, "/chat-completions", models.RoleMember, chat.Request{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/chat-completions", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatCompletionFailures(t *testing.T) {
	body := chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "ping"}}}

	disabled := setupTestServer(t, nil)
	w := disabled.request(http.MethodPost, "/chat-completions", models.RoleMember, body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	failing := setupTestServer(t, stubCompleter{err: errors.New("upstream 502")})
	w = failing.request(http.MethodPost, "/chat-completions", models.RoleMember, body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error", decodeBody[chatError](t, w).Error)
}

func TestAdminAllowedIPs(t *testing.T) {
	logger := zap.NewNop()
	mem := memory.New()
	m := metrics.New()
	recorder := audit.NewRecorder(mem, m, logger)

	deps := Deps{
		Auth:    auth.NewService(mem, recorder, auth.NewTokenManager(testSecret, time.Hour), logger),
		Tokens:  tokens.NewService(mem, mem, recorder, m, logger),
		Viewer:  viewer.NewService(mem, mem, mem, mem, logger),
		Webhook: webhook.NewHandler(mem, mem, webhook.Options{}, m, logger),
		Metrics: m,
	}
	cfg := &config.ServerConfig{
		AdminAllowedIPs: []string{"10.1.0.0/16"},
		TrustedProxies:  []string{"198.51.100.10"},
	}
	handler := NewServer(cfg, "/n8n-webhook", deps, "test", logger).Handler()

	serve := func(method, path, remoteAddr string, xff ...string) int {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(`{"email":"a@b.c","password":"x"}`))
		req.RemoteAddr = remoteAddr
		if len(xff) > 0 {
			req.Header.Set("X-Forwarded-For", xff[0])
			req.Header.Set("X-Real-IP", xff[0])
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/v1/auth/login", "192.0.2.1:1234"))
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/api/v1/auth/login", "10.1.2.3:1234"))

	// forwarding headers from an untrusted peer are ignored
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/v1/auth/login", "192.0.2.1:1234", "10.1.2.3"))

	// behind the trusted proxy the forwarded hop decides
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/api/v1/auth/login", "198.51.100.10:443", "10.1.2.3"))
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/v1/auth/login", "198.51.100.10:443", "192.0.2.1"))

	// ingestion and health stay reachable from anywhere
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/n8n-webhook", "192.0.2.1:1234"))
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/health", "192.0.2.1:1234"))
}
