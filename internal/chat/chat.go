// Package chat proxies chat completion requests to an OpenAI-compatible API
// and keeps a record of each call.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/metrics"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrInvalidRequest = errors.New("invalid chat request")
	ErrUnavailable    = errors.New("chat completions are not configured")
	ErrUpstream       = errors.New("chat completion failed")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body accepted by POST /chat-completions
type Request struct {
	UserID     string    `json:"userId"`
	SolutionID string    `json:"solutionId"`
	Model      string    `json:"model,omitempty"`
	Messages   []Message `json:"messages"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is the upstream answer
type Completion struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Completer performs one upstream call
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (*Completion, error)
}

type Service struct {
	store        repository.ChatStore
	completer    Completer
	defaultModel string
	timeout      time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates the chat service. A nil completer makes every call
// fail with ErrUnavailable.
func NewService(store repository.ChatStore, completer Completer, defaultModel string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		completer:    completer,
		defaultModel: defaultModel,
		timeout:      timeout,
		metrics:      m,
		logger:       logger.With(zap.String("component", "chat")),
		now:          time.Now,
	}
}

// Enabled reports whether an upstream is configured
func (s *Service) Enabled() bool {
	return s.completer != nil
}

// Complete validates the request, stores a pending record, calls upstream
// and stores the outcome. The record id is returned as Completion.ID.
func (s *Service) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if s.completer == nil {
		return nil, ErrUnavailable
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}

	requestData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	record := &models.ChatCompletion{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		SolutionID: req.SolutionID,
		Model:      model,
		Request:    requestData,
		Status:     models.ChatStatusPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateChat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store chat request: %w", err)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	result, callErr := s.completer.Complete(callCtx, model, req.Messages)
	elapsed := s.now().Sub(start).Seconds()

	completedAt := s.now().UTC()
	record.CompletedAt = &completedAt

	if callErr != nil {
		record.Status = models.ChatStatusError
		record.Error = callErr.Error()
		s.finish(ctx, record)
		s.metrics.ObserveChatCompletion(models.ChatStatusError, elapsed)
		s.logger.Warn("chat completion failed",
			zap.String("id", record.ID),
			zap.String("model", model),
			zap.Error(callErr),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, callErr)
	}

	if result.Model == "" {
		result.Model = model
	}
	result.ID = record.ID

	record.Status = models.ChatStatusSuccess
	record.Response, _ = json.Marshal(result)
	s.finish(ctx, record)
	s.metrics.ObserveChatCompletion(models.ChatStatusSuccess, elapsed)
	s.logger.Info("chat completion",
		zap.String("id", record.ID),
		zap.String("model", result.Model),
		zap.Int64("total_tokens", result.Usage.TotalTokens),
	)

	return result, nil
}

// finish stores the outcome. The caller's answer does not depend on it.
func (s *Service) finish(ctx context.Context, record *models.ChatCompletion) {
	if err := s.store.CompleteChat(ctx, record); err != nil {
		s.logger.Error("failed to store chat outcome", zap.String("id", record.ID), zap.Error(err))
	}
}

func validate(req *Request) error {
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has invalid role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	return nil
}
