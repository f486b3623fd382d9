package models

import "time"

// Entity tables referenced by audit entries
const (
	TableWebhookTokens = "webhook_tokens"
	TableWebhookKeys   = "webhook_keys"
	TableUsers         = "users"
)

// Webhook log statuses written by the ingestion endpoint
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"
)

// WebhookToken is a bearer credential accepted by the ingestion endpoint
type WebhookToken struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Token       string     `db:"token" json:"token"`
	Description string     `db:"description" json:"description"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the token has an expiry in the past
func (t *WebhookToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// WebhookKey is a secret with the same lifecycle as WebhookToken but no expiry
type WebhookKey struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Key         string    `db:"key" json:"key"`
	Description string    `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// WebhookLog is one accepted or failed webhook invocation
type WebhookLog struct {
	ID                 string    `db:"id" json:"id"`
	ExecutionID        string    `db:"execution_id" json:"execution_id"`
	WebhookTokenID     *string   `db:"webhook_token_id" json:"webhook_token_id"`
	UserID             *string   `db:"user_id" json:"user_id"`
	RequestData        JSON      `db:"request_data" json:"request_data"`
	ResponseData       JSON      `db:"response_data" json:"response_data"`
	IPAddress          *string   `db:"ip_address" json:"ip_address"`
	Status             string    `db:"status" json:"status"`
	ExecutionTimestamp time.Time `db:"execution_timestamp" json:"execution_timestamp"`
}

// WebhookLogView is a log row enriched with display names
type WebhookLogView struct {
	WebhookLog
	TokenName string `json:"token_name"`
	UserEmail string `json:"user_email"`
}

// WebhookLogFilter for listing webhook logs
type WebhookLogFilter struct {
	Status  string
	TokenID string
	Limit   int
	Offset  int
}

// WebhookLogStats counts log rows by status over a window
type WebhookLogStats struct {
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}
