package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
	"github.com/foxzi/hookdesk/internal/repository/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setupService(t *testing.T) (*Service, *memory.DB) {
	t.Helper()
	mem := memory.New()
	logger := zap.NewNop()
	svc := NewService(mem, audit.NewRecorder(mem, nil, logger), NewTokenManager(testSecret, time.Hour), logger)
	return svc, mem
}

func TestTokenManagerRoundTrip(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	user := &models.User{ID: "u1", Email: "ann@example.com", Role: models.RoleAdmin}

	token, expiresAt, err := m.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestTokenManagerRejects(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	user := &models.User{ID: "u1", Email: "ann@example.com", Role: models.RoleAdmin}

	other := NewTokenManager("another-secret-another-secret-xx", time.Hour)
	foreign, _, err := other.Issue(user)
	require.NoError(t, err)
	_, err = m.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidSession)

	expired := NewTokenManager(testSecret, -time.Minute)
	old, _, err := expired.Issue(user)
	require.NoError(t, err)
	_, err = m.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidSession)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": "hookdesk"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = m.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestLogin(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, " Ann@Example.com ", "Ann", "s3cret", models.RoleAdmin)
	require.NoError(t, err)

	session, err := svc.Login(ctx, "ann@example.com", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "ann@example.com", session.User.Email)

	actor, err := svc.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, actor.UserID)
	assert.Equal(t, models.RoleAdmin, actor.Role)

	_, err = svc.Login(ctx, "ann@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyUsesStoredRole(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	owner, err := svc.CreateUser(ctx, "owner@example.com", "", "pw", models.RoleOwner)
	require.NoError(t, err)
	admin, err := svc.CreateUser(ctx, "admin@example.com", "", "pw", models.RoleAdmin)
	require.NoError(t, err)

	session, err := svc.Login(ctx, admin.Email, "pw")
	require.NoError(t, err)

	_, err = svc.SetRole(ctx, models.Actor{UserID: owner.ID, Email: owner.Email, Role: models.RoleOwner}, admin.ID, models.RoleMember)
	require.NoError(t, err)

	actor, err := svc.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, actor.UserID)
	assert.Equal(t, models.RoleMember, actor.Role)

	// a validly signed session for a user that is gone
	orphan, _, err := NewTokenManager(testSecret, time.Hour).Issue(&models.User{ID: "ghost", Email: "ghost@example.com", Role: models.RoleOwner})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, orphan)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = svc.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestLoginWithoutPassword(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "sso@example.com", "", "", models.RoleMember)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "sso@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserValidation(t *testing.T) {
	svc, mem := setupService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "  ", "x", "pw", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = svc.CreateUser(ctx, "a@example.com", "x", "pw", "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)

	assert.Zero(t, mem.Calls("CreateUser"))

	_, err = svc.CreateUser(ctx, "a@example.com", "x", "pw", models.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, "a@example.com", "x", "pw", models.RoleAdmin)
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestLoginOIDCCreatesMember(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.LoginOIDC(ctx, &UserInfo{Email: "New@Example.com", Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, session.User.Role)
	assert.Equal(t, "new@example.com", session.User.Email)

	again, err := svc.LoginOIDC(ctx, &UserInfo{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, again.User.ID)
}

func TestSetRole(t *testing.T) {
	svc, mem := setupService(t)
	ctx := context.Background()

	owner, err := svc.CreateUser(ctx, "owner@example.com", "", "pw", models.RoleOwner)
	require.NoError(t, err)
	member, err := svc.CreateUser(ctx, "member@example.com", "", "pw", models.RoleMember)
	require.NoError(t, err)

	actor := models.Actor{UserID: owner.ID, Email: owner.Email, Role: owner.Role}

	updated, err := svc.SetRole(ctx, actor, member.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)

	entries := mem.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "update_user_role", entries[0].Action)
	assert.Equal(t, models.TableUsers, entries[0].EntityTable)
	assert.JSONEq(t, `{"email":"member@example.com","old_role":"member","new_role":"admin"}`, entries[0].Details.String())

	_, err = svc.SetRole(ctx, actor, owner.ID, models.RoleMember)
	assert.ErrorIs(t, err, ErrOwnRole)

	_, err = svc.SetRole(ctx, actor, member.ID, "root")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.SetRole(ctx, actor, "missing", models.RoleAdmin)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGenerateState(t *testing.T) {
	state1, err := generateState()
	require.NoError(t, err)
	state2, err := generateState()
	require.NoError(t, err)

	assert.NotEqual(t, state1, state2)
	assert.GreaterOrEqual(t, len(state1), 40)
}

func TestOIDCStateIsSingleUse(t *testing.T) {
	p := &OIDCProvider{states: make(map[string]time.Time)}

	p.states["fresh"] = time.Now()
	p.states["stale"] = time.Now().Add(-stateTTL - time.Second)

	assert.True(t, p.consumeState("fresh"))
	assert.False(t, p.consumeState("fresh"))
	assert.False(t, p.consumeState("stale"))
	assert.False(t, p.consumeState("unknown"))
}

func TestGroupAllowed(t *testing.T) {
	assert.True(t, groupAllowed(nil, nil))
	assert.True(t, groupAllowed([]string{"ops"}, []string{"dev", "ops"}))
	assert.False(t, groupAllowed([]string{"ops"}, []string{"dev"}))
}
