package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps messages and message_deliveries in PostgreSQL. The
// primary key on message_deliveries (message_id, user_id) enforces the one
// delivery per recipient rule.
type PostgresStore struct {
	db querier
}

func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const messageColumns = `m.id, m.title, m.body, m.kind, m.sender_role, COALESCE(m.sender_id, ''),
	m.target_type, m.target_value, COALESCE(m.idempotency_key, ''), m.created_at`

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) (bool, error) {
	if s.db == nil {
		return false, storageErr("create message", errNoDatabase)
	}
	var key *string
	if m.IdempotencyKey != "" {
		key = &m.IdempotencyKey
	}

	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (id, title, body, kind, sender_role, sender_id, target_type, target_value, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING id`,
		m.ID, m.Title, m.Body, string(m.Kind), string(m.SenderRole), m.SenderID,
		string(m.Target.Type()), m.Target.Value(), key, m.CreatedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, storageErr("create message", err)
	}

	// The key was taken by an earlier send.
	existing, err := s.GetMessageByIdempotencyKey(ctx, m.IdempotencyKey)
	if err != nil {
		return false, err
	}
	*m = *existing
	return false, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	return s.getMessage(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id)
}

func (s *PostgresStore) GetMessageByIdempotencyKey(ctx context.Context, key string) (*Message, error) {
	return s.getMessage(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.idempotency_key = $1`, key)
}

func (s *PostgresStore) getMessage(ctx context.Context, sql string, arg string) (*Message, error) {
	if s.db == nil {
		return nil, storageErr("get message", errNoDatabase)
	}
	m, err := scanMessage(s.db.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return m, nil
}

func (s *PostgresStore) InsertDeliveries(ctx context.Context, messageID string, userIDs []string) ([]string, error) {
	if s.db == nil {
		return nil, storageErr("insert deliveries", errNoDatabase)
	}
	if len(userIDs) == 0 {
		return []string{}, nil
	}
	rows, err := s.db.Query(ctx,
		`INSERT INTO message_deliveries (message_id, user_id)
		 SELECT $1, u FROM unnest($2::text[]) AS u
		 ON CONFLICT (message_id, user_id) DO NOTHING
		 RETURNING user_id`,
		messageID, userIDs,
	)
	if err != nil {
		return nil, storageErr("insert deliveries", err)
	}
	defer rows.Close()

	created := make([]string, 0, len(userIDs))
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, storageErr("insert deliveries", err)
		}
		created = append(created, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("insert deliveries", err)
	}
	return created, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	if s.db == nil {
		return storageErr("mark read", errNoDatabase)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE message_deliveries SET is_read = true, read_at = $3
		 WHERE message_id = $1 AND user_id = $2 AND is_read = false`,
		messageID, userID, at,
	)
	if err != nil {
		return storageErr("mark read", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM message_deliveries WHERE message_id = $1 AND user_id = $2)`,
		messageID, userID,
	).Scan(&exists)
	if err != nil {
		return storageErr("mark read", err)
	}
	if !exists {
		return ErrDeliveryNotFound
	}
	return nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	if s.db == nil {
		return 0, storageErr("mark all read", errNoDatabase)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE message_deliveries SET is_read = true, read_at = $2
		 WHERE user_id = $1 AND is_read = false`,
		userID, at,
	)
	if err != nil {
		return 0, storageErr("mark all read", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	if s.db == nil {
		return 0, storageErr("unread count", errNoDatabase)
	}
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_deliveries WHERE user_id = $1 AND is_read = false`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, storageErr("unread count", err)
	}
	return n, nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, after *HistoryCursor, limit int) ([]HistoryEntry, error) {
	if s.db == nil {
		return nil, storageErr("history", errNoDatabase)
	}
	query := `SELECT ` + messageColumns + `, d.is_read, d.read_at, d.created_at
	          FROM message_deliveries d JOIN messages m ON m.id = d.message_id
	          WHERE d.user_id = $1`
	args := []any{userID}
	if after != nil {
		query += ` AND (m.created_at, m.id) < ($2, $3)`
		args = append(args, after.CreatedAt, after.MessageID)
	}
	query += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			e   HistoryEntry
			row messageRow
		)
		dest := append(row.dest(), &e.Delivery.IsRead, &e.Delivery.ReadAt, &e.Delivery.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, storageErr("history", err)
		}
		if e.Message, err = row.message(); err != nil {
			return nil, storageErr("history", err)
		}
		e.Delivery.MessageID, e.Delivery.UserID = e.Message.ID, userID
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("history", err)
	}
	return entries, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, params ListParams) ([]MessageSummary, int, error) {
	if s.db == nil {
		return nil, 0, storageErr("list messages", errNoDatabase)
	}
	params.normalize()

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, 0, storageErr("list messages", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+`,
		        COUNT(d.user_id), COUNT(d.user_id) FILTER (WHERE d.is_read)
		 FROM messages m LEFT JOIN message_deliveries d ON d.message_id = m.id
		 GROUP BY m.id
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $1 OFFSET $2`,
		params.Limit, params.Offset,
	)
	if err != nil {
		return nil, 0, storageErr("list messages", err)
	}
	defer rows.Close()

	summaries := []MessageSummary{}
	for rows.Next() {
		var (
			ms  MessageSummary
			row messageRow
		)
		if err := rows.Scan(append(row.dest(), &ms.SentCount, &ms.ReadCount)...); err != nil {
			return nil, 0, storageErr("list messages", err)
		}
		if ms.Message, err = row.message(); err != nil {
			return nil, 0, storageErr("list messages", err)
		}
		ms.CreatedAt = ms.Message.CreatedAt
		summaries = append(summaries, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("list messages", err)
	}
	return summaries, total, nil
}

func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	if s.db == nil {
		return Totals{}, storageErr("totals", errNoDatabase)
	}
	var t Totals
	err := s.db.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM messages),
		        (SELECT COUNT(*) FROM message_deliveries),
		        (SELECT COUNT(*) FROM message_deliveries WHERE is_read)`,
	).Scan(&t.TotalMessages, &t.TotalDeliveries, &t.TotalRead)
	if err != nil {
		return Totals{}, storageErr("totals", err)
	}
	return t, nil
}

func (s *PostgresStore) MessageStats(ctx context.Context, messageID string) (MessageStats, error) {
	if s.db == nil {
		return MessageStats{}, storageErr("message stats", errNoDatabase)
	}
	ms := MessageStats{MessageID: messageID}
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(d.user_id), COUNT(d.user_id) FILTER (WHERE d.is_read)
		 FROM messages m LEFT JOIN message_deliveries d ON d.message_id = m.id
		 WHERE m.id = $1
		 GROUP BY m.id`,
		messageID,
	).Scan(&ms.SentCount, &ms.ReadCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageStats{}, ErrMessageNotFound
	}
	if err != nil {
		return MessageStats{}, storageErr("message stats", err)
	}
	return ms, nil
}

var errNoDatabase = errors.New("no database connection")

// messageRow scans the messageColumns projection.
type messageRow struct {
	m                       Message
	kind, senderRole        string
	targetType, targetValue string
}

func (r *messageRow) dest() []any {
	return []any{
		&r.m.ID, &r.m.Title, &r.m.Body, &r.kind, &r.senderRole, &r.m.SenderID,
		&r.targetType, &r.targetValue, &r.m.IdempotencyKey, &r.m.CreatedAt,
	}
}

func (r *messageRow) message() (Message, error) {
	r.m.Kind = Kind(r.kind)
	r.m.SenderRole = SenderRole(r.senderRole)
	target, err := ParseTarget(r.targetType, r.targetValue)
	if err != nil {
		return Message{}, err
	}
	r.m.Target = target
	return r.m, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var r messageRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	m, err := r.message()
	if err != nil {
		return nil, err
	}
	return &m, nil
}
