// Package memory is an in-process implementation of every repository store.
// It backs the "memory" database driver and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

// DB holds all tables in memory. The exported error fields make the matching
// operation fail, which tests use to simulate a broken store.
type DB struct {
	mu sync.RWMutex

	tokens []models.WebhookToken
	keys   []models.WebhookKey
	logs   []models.WebhookLog
	audit  []models.AuditLogEntry
	users  []models.User
	chats  []models.ChatCompletion

	calls map[string]int

	InsertLogErr error
	AuditErr     error
	LookupErr    error
}

// New returns an empty in-memory database
func New() *DB {
	return &DB{calls: make(map[string]int)}
}

// Store wraps the database in a repository.Store
func (d *DB) Store() *repository.Store {
	return &repository.Store{
		Tokens: d,
		Keys:   d,
		Logs:   d,
		Audit:  d,
		Users:  d,
		Chats:  d,
	}
}

// Calls returns how many times the named operation was invoked
func (d *DB) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// TotalCalls returns the number of store operations invoked so far
func (d *DB) TotalCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

// Logs returns a copy of all webhook log rows in insertion order
func (d *DB) Logs() []models.WebhookLog {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.WebhookLog(nil), d.logs...)
}

// AuditEntries returns a copy of all audit entries in insertion order
func (d *DB) AuditEntries() []models.AuditLogEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.AuditLogEntry(nil), d.audit...)
}

func (d *DB) track(op string) {
	d.calls[op]++
}

// Tokens

func (d *DB) CreateToken(ctx context.Context, t *models.WebhookToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CreateToken")
	d.tokens = append(d.tokens, *t)
	return nil
}

func (d *DB) GetToken(ctx context.Context, id string) (*models.WebhookToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("GetToken")
	for _, t := range d.tokens {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *DB) FindActiveToken(ctx context.Context, token string) (*models.WebhookToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("FindActiveToken")
	if d.LookupErr != nil {
		return nil, d.LookupErr
	}
	for _, t := range d.tokens {
		if t.Token == token && t.IsActive {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *DB) ListTokens(ctx context.Context) ([]models.WebhookToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListTokens")
	out := append([]models.WebhookToken{}, d.tokens...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (d *DB) SetTokenActive(ctx context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("SetTokenActive")
	for i := range d.tokens {
		if d.tokens[i].ID == id {
			d.tokens[i].IsActive = active
			return nil
		}
	}
	return repository.ErrNotFound
}

func (d *DB) DeleteToken(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("DeleteToken")
	for i := range d.tokens {
		if d.tokens[i].ID == id {
			d.tokens = append(d.tokens[:i], d.tokens[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (d *DB) TokenNames(ctx context.Context, ids []string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("TokenNames")
	out := make(map[string]string)
	for _, id := range ids {
		for _, t := range d.tokens {
			if t.ID == id {
				out[id] = t.Name
			}
		}
	}
	return out, nil
}

func (d *DB) ListExpiredActiveTokens(ctx context.Context, now time.Time) ([]models.WebhookToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListExpiredActiveTokens")
	var out []models.WebhookToken
	for _, t := range d.tokens {
		if t.IsActive && t.Expired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Keys

func (d *DB) CreateKey(ctx context.Context, k *models.WebhookKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CreateKey")
	d.keys = append(d.keys, *k)
	return nil
}

func (d *DB) GetKey(ctx context.Context, id string) (*models.WebhookKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("GetKey")
	for _, k := range d.keys {
		if k.ID == id {
			return &k, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *DB) ListKeys(ctx context.Context) ([]models.WebhookKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListKeys")
	out := append([]models.WebhookKey{}, d.keys...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (d *DB) SetKeyActive(ctx context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("SetKeyActive")
	for i := range d.keys {
		if d.keys[i].ID == id {
			d.keys[i].IsActive = active
			return nil
		}
	}
	return repository.ErrNotFound
}

func (d *DB) DeleteKey(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("DeleteKey")
	for i := range d.keys {
		if d.keys[i].ID == id {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// Logs

func (d *DB) InsertLog(ctx context.Context, l *models.WebhookLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("InsertLog")
	if d.InsertLogErr != nil {
		return d.InsertLogErr
	}
	d.logs = append(d.logs, *l)
	return nil
}

func (d *DB) ListLogs(ctx context.Context, filter models.WebhookLogFilter) ([]models.WebhookLog, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListLogs")
	var matched []models.WebhookLog
	for _, l := range d.logs {
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.TokenID != "" && (l.WebhookTokenID == nil || *l.WebhookTokenID != filter.TokenID) {
			continue
		}
		matched = append(matched, l)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExecutionTimestamp.After(matched[j].ExecutionTimestamp)
	})
	return paginate(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (d *DB) LogStats(ctx context.Context, since time.Time) (*models.WebhookLogStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("LogStats")
	stats := &models.WebhookLogStats{Since: since, ByStatus: make(map[string]int)}
	for _, l := range d.logs {
		if l.ExecutionTimestamp.Before(since) {
			continue
		}
		stats.ByStatus[l.Status]++
		stats.Total++
	}
	return stats, nil
}

func (d *DB) CountLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CountLogsBefore")
	n := 0
	for _, l := range d.logs {
		if l.ExecutionTimestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (d *DB) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("DeleteLogsBefore")
	kept := d.logs[:0]
	var n int64
	for _, l := range d.logs {
		if l.ExecutionTimestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	d.logs = kept
	return n, nil
}

// Audit

func (d *DB) AddAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("AddAuditLog")
	if d.AuditErr != nil {
		return d.AuditErr
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	d.audit = append(d.audit, *e)
	return nil
}

func (d *DB) ListAuditLog(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLogEntry, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListAuditLog")
	var matched []models.AuditLogEntry
	for i := len(d.audit) - 1; i >= 0; i-- {
		e := d.audit[i]
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityTable != "" && e.EntityTable != filter.EntityTable {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (d *DB) CountAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CountAuditBefore")
	n := 0
	for _, e := range d.audit {
		if e.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (d *DB) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("DeleteAuditBefore")
	kept := d.audit[:0]
	var n int64
	for _, e := range d.audit {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	d.audit = kept
	return n, nil
}

// Users

func (d *DB) CreateUser(ctx context.Context, u *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CreateUser")
	for _, existing := range d.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	d.users = append(d.users, *u)
	return nil
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("GetUserByID")
	for _, u := range d.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("GetUserByEmail")
	for _, u := range d.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("ListUsers")
	out := append([]models.User{}, d.users...)
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (d *DB) UpdateUserRole(ctx context.Context, id, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("UpdateUserRole")
	for i := range d.users {
		if d.users[i].ID == id {
			d.users[i].Role = role
			d.users[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (d *DB) UserEmails(ctx context.Context, ids []string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("UserEmails")
	out := make(map[string]string)
	for _, id := range ids {
		for _, u := range d.users {
			if u.ID == id {
				out[id] = u.Email
			}
		}
	}
	return out, nil
}

// Chat completions

func (d *DB) CreateChat(ctx context.Context, c *models.ChatCompletion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CreateChat")
	d.chats = append(d.chats, *c)
	return nil
}

func (d *DB) CompleteChat(ctx context.Context, c *models.ChatCompletion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("CompleteChat")
	for i := range d.chats {
		if d.chats[i].ID == c.ID {
			d.chats[i].Response = c.Response
			d.chats[i].Status = c.Status
			d.chats[i].Error = c.Error
			d.chats[i].CompletedAt = c.CompletedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (d *DB) GetChat(ctx context.Context, id string) (*models.ChatCompletion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track("GetChat")
	for _, c := range d.chats {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
