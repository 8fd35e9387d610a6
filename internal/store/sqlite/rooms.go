package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentbus/internal/store"
)

// RoomStore implements store.RoomStore on SQLite.
type RoomStore struct {
	db *DB
}

// NewRoomStore creates the room store.
func NewRoomStore(db *DB) *RoomStore {
	return &RoomStore{db: db}
}

var _ store.RoomStore = (*RoomStore)(nil)

const roomCols = `room_id, topic, state, password_hash, config_blob, total_file_bytes, created_at`

func (s *RoomStore) CreateRoom(ctx context.Context, room *store.RoomData, main *store.ChannelData) error {
	cfg, err := json.Marshal(room.Config)
	if err != nil {
		return fmt.Errorf("marshal room config: %w", err)
	}

	tx, err := s.db.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (`+roomCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.RoomID, room.Topic, room.State, room.PasswordHash, string(cfg),
		room.TotalFileBytes, fmtTime(room.CreatedAt),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels (room_id, channel_id, name, topic, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		main.RoomID, main.ChannelID, main.Name, main.Topic, main.CreatedBy, fmtTime(main.CreatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*store.RoomData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+roomCols+` FROM rooms WHERE room_id = ?`, roomID)
	return scanRoom(row)
}

func (s *RoomStore) ListRooms(ctx context.Context) ([]store.RoomData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+roomCols+` FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RoomData
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.RoomData, error) {
	var (
		r       store.RoomData
		cfg     string
		created string
	)
	err := row.Scan(&r.RoomID, &r.Topic, &r.State, &r.PasswordHash, &cfg, &r.TotalFileBytes, &created)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return nil, fmt.Errorf("unmarshal room config: %w", err)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func (s *RoomStore) UpdateRoomState(ctx context.Context, roomID, state string) error {
	_, err := s.db.execWrite(ctx, `UPDATE rooms SET state = ? WHERE room_id = ?`, state, roomID)
	return err
}

func (s *RoomStore) UpdateRoomFileBytes(ctx context.Context, roomID string, total int64) error {
	_, err := s.db.execWrite(ctx, `UPDATE rooms SET total_file_bytes = ? WHERE room_id = ?`, total, roomID)
	return err
}

// --- Members ---

func (s *RoomStore) UpsertMember(ctx context.Context, m *store.MemberData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO members (room_id, client_id, role, vote_weight, joined_at, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room_id, client_id) DO UPDATE SET
		   role = excluded.role, vote_weight = excluded.vote_weight, active = excluded.active`,
		m.RoomID, m.ClientID, m.Role, m.VoteWeight, fmtTime(m.JoinedAt), boolInt(m.Active))
	return err
}

func (s *RoomStore) SetMemberActive(ctx context.Context, roomID, clientID string, active bool) error {
	_, err := s.db.execWrite(ctx,
		`UPDATE members SET active = ? WHERE room_id = ? AND client_id = ?`,
		boolInt(active), roomID, clientID)
	return err
}

func (s *RoomStore) ListMembers(ctx context.Context, roomID string) ([]store.MemberData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT room_id, client_id, role, vote_weight, joined_at, active
		 FROM members WHERE room_id = ? ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MemberData
	for rows.Next() {
		var (
			m      store.MemberData
			joined string
			active int
		)
		if err := rows.Scan(&m.RoomID, &m.ClientID, &m.Role, &m.VoteWeight, &joined, &active); err != nil {
			return nil, err
		}
		m.JoinedAt = parseTime(joined)
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Channels ---

func (s *RoomStore) SaveChannel(ctx context.Context, c *store.ChannelData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO channels (room_id, channel_id, name, topic, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.RoomID, c.ChannelID, c.Name, c.Topic, c.CreatedBy, fmtTime(c.CreatedAt))
	return err
}

func (s *RoomStore) ListChannels(ctx context.Context, roomID string) ([]store.ChannelData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT room_id, channel_id, name, topic, created_by, created_at
		 FROM channels WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ChannelData
	for rows.Next() {
		var (
			c       store.ChannelData
			created string
		)
		if err := rows.Scan(&c.RoomID, &c.ChannelID, &c.Name, &c.Topic, &c.CreatedBy, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Room messages ---

func (s *RoomStore) SaveRoomMessage(ctx context.Context, m *store.RoomMessageData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO room_messages (id, room_id, channel_id, from_client, kind, text, reply_to, created_at, meta_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RoomID, m.ChannelID, m.From, m.Kind, m.Text,
		nullString(m.ReplyTo), fmtTime(m.CreatedAt), nullBytes(m.Meta))
	return err
}

func (s *RoomStore) GetRoomMessage(ctx context.Context, id string) (*store.RoomMessageData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT id, room_id, channel_id, from_client, kind, text, reply_to, created_at, meta_blob
		 FROM room_messages WHERE id = ?`, id)
	var (
		m       store.RoomMessageData
		replyTo sql.NullString
		created string
		meta    sql.NullString
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.ChannelID, &m.From, &m.Kind, &m.Text, &replyTo, &created, &meta)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ReplyTo = replyTo.String
	m.CreatedAt = parseTime(created)
	if meta.Valid {
		m.Meta = json.RawMessage(meta.String)
	}
	return &m, nil
}

func (s *RoomStore) RecentRoomMessages(ctx context.Context, roomID string, limit int) ([]store.RoomMessageData, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT id, room_id, channel_id, from_client, kind, text, reply_to, created_at, meta_blob
		 FROM (SELECT * FROM room_messages WHERE room_id = ? ORDER BY created_at DESC LIMIT ?)
		 ORDER BY created_at`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RoomMessageData
	for rows.Next() {
		var (
			m       store.RoomMessageData
			replyTo sql.NullString
			created string
			meta    sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.ChannelID, &m.From, &m.Kind, &m.Text, &replyTo, &created, &meta); err != nil {
			return nil, err
		}
		m.ReplyTo = replyTo.String
		m.CreatedAt = parseTime(created)
		if meta.Valid {
			m.Meta = json.RawMessage(meta.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Critiques ---

func (s *RoomStore) SaveCritique(ctx context.Context, c *store.CritiqueData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO critiques (id, target_message_id, from_client, text, severity, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TargetMessageID, c.From, c.Text, c.Severity, fmtTime(c.CreatedAt), fmtTimePtr(c.ResolvedAt))
	return err
}

func (s *RoomStore) ListRoomCritiques(ctx context.Context, roomID string) ([]store.CritiqueData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT c.id, c.target_message_id, c.from_client, c.text, c.severity, c.created_at, c.resolved_at
		 FROM critiques c
		 JOIN room_messages rm ON rm.id = c.target_message_id
		 WHERE rm.room_id = ? ORDER BY c.created_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CritiqueData
	for rows.Next() {
		var (
			c        store.CritiqueData
			created  string
			resolved sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.TargetMessageID, &c.From, &c.Text, &c.Severity, &created, &resolved); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		c.ResolvedAt = parseTimePtr(resolved)
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
