package models

import "time"

// ActorSystem is recorded as actor for mutations made by background jobs
const ActorSystem = "system"

// AuditLogEntry represents an audit log entry
type AuditLogEntry struct {
	ID          string    `db:"id" json:"id"`
	Action      string    `db:"action" json:"action"`
	EntityTable string    `db:"entity_table" json:"entity_table"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Details     JSON      `db:"details" json:"details"`
	Actor       string    `db:"actor" json:"actor"`
	ActorEmail  string    `db:"actor_email" json:"actor_email"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AuditLogFilter for filtering audit log
type AuditLogFilter struct {
	Actor       string
	Action      string
	EntityTable string
	Limit       int
	Offset      int
}

// Actor is the authenticated user performing a mutation
type Actor struct {
	UserID string
	Email  string
	Role   string
	IP     string
}
