package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/ratelimit"
)

func (s *Server) handleListWebhookLogs(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		sendError(w, http.StatusBadRequest, codeValidation, "limit and offset must be non-negative integers")
		return
	}

	q := r.URL.Query()
	page, err := s.deps.Viewer.ListLogs(r.Context(), models.WebhookLogFilter{
		Status:  q.Get("status"),
		TokenID: q.Get("token_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, page)
}

func (s *Server) handleWebhookLogStats(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days")
	if !ok {
		sendError(w, http.StatusBadRequest, codeValidation, "days must be a non-negative integer")
		return
	}

	stats, err := s.deps.Viewer.Stats(r.Context(), days)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		sendError(w, http.StatusBadRequest, codeValidation, "limit and offset must be non-negative integers")
		return
	}

	q := r.URL.Query()
	page, err := s.deps.Viewer.ListAudit(r.Context(), models.AuditLogFilter{
		Actor:       q.Get("actor"),
		Action:      q.Get("action"),
		EntityTable: q.Get("entity_table"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, page)
}

// RateLimitStatsResponse is the response for GET /api/v1/rate-limits/{level}/{key}
type RateLimitStatsResponse struct {
	Level       string `json:"level"`
	Key         string `json:"key"`
	MinuteCount int    `json:"minute_count"`
	HourlyCount int    `json:"hourly_count"`
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.RateLimits == nil {
		sendError(w, http.StatusServiceUnavailable, codeUnavailable, "Rate limiting is not enabled")
		return
	}

	level := ratelimit.Level(chi.URLParam(r, "level"))
	if level != ratelimit.LevelIP && level != ratelimit.LevelToken {
		sendError(w, http.StatusBadRequest, codeValidation, "level must be ip or token")
		return
	}
	key := chi.URLParam(r, "key")

	stats, err := s.deps.RateLimits.GetStats(r.Context(), level, key)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, RateLimitStatsResponse{
		Level:       string(level),
		Key:         key,
		MinuteCount: stats.MinuteCount,
		HourlyCount: stats.HourlyCount,
	})
}
