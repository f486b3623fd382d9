package models

import "time"

// Chat completion statuses
const (
	ChatStatusPending = "pending"
	ChatStatusSuccess = "success"
	ChatStatusError   = "error"
)

// ChatCompletion records one proxied LLM call
type ChatCompletion struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	SolutionID  string     `db:"solution_id" json:"solution_id"`
	Model       string     `db:"model" json:"model"`
	Request     JSON       `db:"request" json:"request"`
	Response    JSON       `db:"response" json:"response"`
	Status      string     `db:"status" json:"status"`
	Error       string     `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
}
