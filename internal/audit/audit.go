package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is a single audit log entry.
type Entry struct {
	ID        int64           `json:"id"`
	UserID    *string         `json:"user_id"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Details   json.RawMessage `json:"details"`
	Timestamp time.Time       `json:"timestamp"`
}

// ListParams holds the query filters for listing audit entries.
type ListParams struct {
	UserID string
	Action string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

func (p *ListParams) normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// Store records and lists audit entries.
type Store interface {
	Insert(ctx context.Context, userID *string, action, resource string, details json.RawMessage) error
	List(ctx context.Context, params ListParams) ([]Entry, int, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps entries in the audit_log table.
type PostgresStore struct {
	db querier
}

func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, userID *string, action, resource string, details json.RawMessage) error {
	if details == nil {
		details = json.RawMessage("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (user_id, action, resource, details) VALUES ($1, $2, $3, $4)`,
		userID, action, resource, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, params ListParams) ([]Entry, int, error) {
	params.normalize()

	where := ` WHERE 1=1`
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where += ` AND ` + cond + ` $` + strconv.Itoa(len(args))
	}
	if params.UserID != "" {
		add("user_id =", params.UserID)
	}
	if params.Action != "" {
		add("action =", params.Action)
	}
	if params.From != nil {
		add("timestamp >=", *params.From)
	}
	if params.To != nil {
		add("timestamp <=", *params.To)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	n := len(args)
	query := `SELECT id, user_id, action, resource, details, timestamp FROM audit_log` + where +
		` ORDER BY timestamp DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := s.db.Query(ctx, query, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.Details, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, userID *string, action, resource string, details json.RawMessage) error {
	if details == nil {
		details = json.RawMessage("{}")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{
		ID:        int64(len(s.entries) + 1),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) List(ctx context.Context, params ListParams) ([]Entry, int, error) {
	params.normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []Entry{}
	for _, e := range s.entries {
		if params.UserID != "" && (e.UserID == nil || *e.UserID != params.UserID) {
			continue
		}
		if params.Action != "" && e.Action != params.Action {
			continue
		}
		if params.From != nil && e.Timestamp.Before(*params.From) {
			continue
		}
		if params.To != nil && e.Timestamp.After(*params.To) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if params.Offset >= total {
		return []Entry{}, total, nil
	}
	end := min(params.Offset+params.Limit, total)
	return matched[params.Offset:end], total, nil
}
