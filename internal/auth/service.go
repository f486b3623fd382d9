package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmailRequired      = errors.New("email is required")
	ErrOwnRole            = errors.New("cannot change own role")
)

// dummyHash is compared against when the user does not exist
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("hookdesk-dummy-password"), bcrypt.DefaultCost)

// Session is the result of a successful login
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Service handles dashboard users and sessions
type Service struct {
	users  repository.UserStore
	audit  *audit.Recorder
	tokens *TokenManager
	logger *zap.Logger
}

func NewService(users repository.UserStore, recorder *audit.Recorder, tokens *TokenManager, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		audit:  recorder,
		tokens: tokens,
		logger: logger.With(zap.String("component", "auth")),
	}
}

// Login checks a local password and issues a session
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && user.PasswordHash == "") {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("failed login", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// LoginOIDC issues a session for an identity verified by the OIDC provider,
// creating a member account on first login.
func (s *Service) LoginOIDC(ctx context.Context, info *UserInfo) (*Session, error) {
	email := normalizeEmail(info.Email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		user, err = s.createUser(ctx, email, info.Name, "", models.RoleMember)
		if err != nil {
			return nil, err
		}
		s.logger.Info("user created from OIDC login", zap.String("email", email))
	} else if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return s.issue(user)
}

// Verify turns a session token into the acting user. Email and role come from
// the stored user, so role changes apply to sessions already issued.
func (s *Service) Verify(ctx context.Context, token string) (models.Actor, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.Actor{}, err
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Actor{}, ErrInvalidSession
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to load session user: %w", err)
	}
	return models.Actor{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// CreateUser creates a user with a local password. An empty password creates
// an OIDC-only account.
func (s *Service) CreateUser(ctx context.Context, email, name, password, role string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if !models.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hash = string(h)
	}

	return s.createUser(ctx, email, name, hash, role)
}

func (s *Service) createUser(ctx context.Context, email, name, hash, role string) (*models.User, error) {
	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetUserByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.ListUsers(ctx)
}

// SetRole changes a user's role and records update_user_role
func (s *Service) SetRole(ctx context.Context, actor models.Actor, userID, role string) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if actor.UserID == userID {
		return nil, ErrOwnRole
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	oldRole := user.Role

	if err := s.users.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	user.Role = role

	s.audit.Record(ctx, actor, "update_user_role", models.TableUsers, userID, map[string]any{
		"email":    user.Email,
		"old_role": oldRole,
		"new_role": role,
	})
	s.logger.Info("user role updated",
		zap.String("user_id", userID),
		zap.String("old_role", oldRole),
		zap.String("new_role", role),
		zap.String("by", actor.Email),
	)

	return user, nil
}

func (s *Service) issue(user *models.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
