package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// MessageStore implements store.MessageStore on SQLite.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates the message store.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

var _ store.MessageStore = (*MessageStore)(nil)

const messageCols = `id, seq, from_client, to_client, type, priority, payload_blob, metadata_blob, reply_to, created_at, ttl_seconds, status`

func (s *MessageStore) SaveMessage(ctx context.Context, m *store.MessageRecord) error {
	var meta []byte
	if len(m.Metadata) > 0 {
		meta, _ = json.Marshal(m.Metadata)
	}
	_, err := s.db.execWrite(ctx,
		`INSERT OR REPLACE INTO messages (`+messageCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Seq, m.From, m.To, m.Type, m.Priority.String(),
		nullBytes(m.Payload), nullBytes(meta), nullString(m.ReplyTo),
		fmtTime(m.CreatedAt), m.TTLSeconds, m.Status,
	)
	return err
}

func (s *MessageStore) GetMessage(ctx context.Context, id string) (*store.MessageRecord, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	return scanMessage(rows)
}

func (s *MessageStore) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.reader.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&seq)
	return seq, err
}

func (s *MessageStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	_, err := s.db.execWrite(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *MessageStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.execWrite(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (s *MessageStore) FetchSince(ctx context.Context, clientID string, sinceSeq int64, limit int) ([]store.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE seq > ? AND status != ? AND (to_client = ? OR (to_client = ? AND from_client != ?))
		 ORDER BY seq LIMIT ?`,
		sinceSeq, store.MessageExpired, clientID, protocol.Broadcast, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (*store.MessageRecord, error) {
	var (
		m        store.MessageRecord
		priority string
		payload  sql.NullString
		meta     sql.NullString
		replyTo  sql.NullString
		created  string
	)
	if err := rows.Scan(&m.ID, &m.Seq, &m.From, &m.To, &m.Type, &priority,
		&payload, &meta, &replyTo, &created, &m.TTLSeconds, &m.Status); err != nil {
		return nil, err
	}
	m.Priority, _ = protocol.ParsePriority(priority)
	if payload.Valid {
		m.Payload = json.RawMessage(payload.String)
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
	}
	m.ReplyTo = replyTo.String
	m.CreatedAt = parseTime(created)
	return &m, nil
}

func (s *MessageStore) SavePending(ctx context.Context, p *store.PendingDelivery) error {
	_, err := s.db.execWrite(ctx,
		`INSERT OR REPLACE INTO pending_deliveries
		 (message_id, recipient, attempts, next_attempt_at, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.MessageID, p.Recipient, p.Attempts, fmtTime(p.NextAttemptAt), fmtTime(p.CreatedAt), p.Status)
	return err
}

func (s *MessageStore) UpdatePending(ctx context.Context, messageID, recipient string, attempts int, nextAttempt time.Time, status string) error {
	_, err := s.db.execWrite(ctx,
		`UPDATE pending_deliveries SET attempts = ?, next_attempt_at = ?, status = ?
		 WHERE message_id = ? AND recipient = ?`,
		attempts, fmtTime(nextAttempt), status, messageID, recipient)
	return err
}

func (s *MessageStore) DeletePending(ctx context.Context, messageID, recipient string) error {
	_, err := s.db.execWrite(ctx,
		`DELETE FROM pending_deliveries WHERE message_id = ? AND recipient = ?`, messageID, recipient)
	return err
}

func (s *MessageStore) LoadPending(ctx context.Context) ([]store.PendingDelivery, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT message_id, recipient, attempts, next_attempt_at, created_at, status
		 FROM pending_deliveries WHERE status = ?`, store.PendingActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PendingDelivery
	for rows.Next() {
		var (
			p            store.PendingDelivery
			next, create string
		)
		if err := rows.Scan(&p.MessageID, &p.Recipient, &p.Attempts, &next, &create, &p.Status); err != nil {
			return nil, err
		}
		p.NextAttemptAt = parseTime(next)
		p.CreatedAt = parseTime(create)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MessageStore) PurgePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.execWrite(ctx,
		`DELETE FROM pending_deliveries WHERE status != ? AND created_at < ?`,
		store.PendingActive, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
