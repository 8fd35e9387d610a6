package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
)

// Decision, amendment, debate, and vote persistence for RoomStore.

const decisionCols = `id, room_id, channel_id, proposed_by, text, vote_type, required_votes, status, created_at, closed_at`

func (s *RoomStore) SaveDecision(ctx context.Context, d *store.DecisionData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO decisions (`+decisionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RoomID, d.ChannelID, d.ProposedBy, d.Text, d.VoteType,
		d.RequiredVotes, d.Status, fmtTime(d.CreatedAt), fmtTimePtr(d.ClosedAt))
	return err
}

func (s *RoomStore) GetDecision(ctx context.Context, decisionID string) (*store.DecisionData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+decisionCols+` FROM decisions WHERE id = ?`, decisionID)
	var (
		d       store.DecisionData
		created string
		closed  sql.NullString
	)
	err := row.Scan(&d.ID, &d.RoomID, &d.ChannelID, &d.ProposedBy, &d.Text,
		&d.VoteType, &d.RequiredVotes, &d.Status, &created, &closed)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(created)
	d.ClosedAt = parseTimePtr(closed)
	return &d, nil
}

func (s *RoomStore) UpdateDecisionText(ctx context.Context, decisionID, text string) error {
	_, err := s.db.execWrite(ctx, `UPDATE decisions SET text = ? WHERE id = ?`, text, decisionID)
	return err
}

func (s *RoomStore) CloseDecision(ctx context.Context, decisionID, status string, closedAt time.Time) error {
	_, err := s.db.execWrite(ctx,
		`UPDATE decisions SET status = ?, closed_at = ? WHERE id = ?`,
		status, fmtTime(closedAt), decisionID)
	return err
}

func (s *RoomStore) ListDecisions(ctx context.Context, roomID string) ([]store.DecisionData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+decisionCols+` FROM decisions WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DecisionData
	for rows.Next() {
		var (
			d       store.DecisionData
			created string
			closed  sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.RoomID, &d.ChannelID, &d.ProposedBy, &d.Text,
			&d.VoteType, &d.RequiredVotes, &d.Status, &created, &closed); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(created)
		d.ClosedAt = parseTimePtr(closed)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *RoomStore) LinkAlternative(ctx context.Context, parentID, altID string, ordinal int) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO alternatives (decision_id, alternative_id, ordinal) VALUES (?, ?, ?)`,
		parentID, altID, ordinal)
	return err
}

func (s *RoomStore) ListAlternatives(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT alternative_id FROM alternatives WHERE decision_id = ? ORDER BY ordinal`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *RoomStore) ListRoomAlternativeLinks(ctx context.Context, roomID string) ([]store.AlternativeLink, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT a.decision_id, a.alternative_id, a.ordinal
		 FROM alternatives a
		 JOIN decisions d ON d.id = a.decision_id
		 WHERE d.room_id = ? ORDER BY a.decision_id, a.ordinal`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AlternativeLink
	for rows.Next() {
		var l store.AlternativeLink
		if err := rows.Scan(&l.DecisionID, &l.AlternativeID, &l.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Amendments ---

const amendmentCols = `id, decision_id, proposed_by, text, accepted, created_at, accepted_at`

func (s *RoomStore) SaveAmendment(ctx context.Context, a *store.AmendmentData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO amendments (`+amendmentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DecisionID, a.ProposedBy, a.Text, boolInt(a.Accepted),
		fmtTime(a.CreatedAt), fmtTimePtr(a.AcceptedAt))
	return err
}

func (s *RoomStore) AcceptAmendment(ctx context.Context, amendmentID string, at time.Time) error {
	_, err := s.db.execWrite(ctx,
		`UPDATE amendments SET accepted = 1, accepted_at = ? WHERE id = ?`,
		fmtTime(at), amendmentID)
	return err
}

func (s *RoomStore) ListAmendments(ctx context.Context, decisionID string) ([]store.AmendmentData, error) {
	return s.queryAmendments(ctx,
		`SELECT `+amendmentCols+` FROM amendments WHERE decision_id = ? ORDER BY created_at`, decisionID)
}

func (s *RoomStore) ListRoomAmendments(ctx context.Context, roomID string) ([]store.AmendmentData, error) {
	return s.queryAmendments(ctx,
		`SELECT a.id, a.decision_id, a.proposed_by, a.text, a.accepted, a.created_at, a.accepted_at
		 FROM amendments a
		 JOIN decisions d ON d.id = a.decision_id
		 WHERE d.room_id = ? ORDER BY a.created_at`, roomID)
}

func (s *RoomStore) queryAmendments(ctx context.Context, query string, arg any) ([]store.AmendmentData, error) {
	rows, err := s.db.reader.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AmendmentData
	for rows.Next() {
		var (
			a        store.AmendmentData
			accepted int
			created  string
			acceptAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.DecisionID, &a.ProposedBy, &a.Text, &accepted, &created, &acceptAt); err != nil {
			return nil, err
		}
		a.Accepted = accepted != 0
		a.CreatedAt = parseTime(created)
		a.AcceptedAt = parseTimePtr(acceptAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Debate arguments ---

func (s *RoomStore) SaveDebateArgument(ctx context.Context, a *store.DebateArgumentData) error {
	var evidence []byte
	if len(a.Evidence) > 0 {
		evidence, _ = json.Marshal(a.Evidence)
	}
	_, err := s.db.execWrite(ctx,
		`INSERT INTO debate_args (id, decision_id, from_client, position, text, evidence_blob, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DecisionID, a.From, a.Position, a.Text, nullBytes(evidence), fmtTime(a.CreatedAt))
	return err
}

func (s *RoomStore) ListDebateArguments(ctx context.Context, decisionID string) ([]store.DebateArgumentData, error) {
	return s.queryDebateArgs(ctx,
		`SELECT id, decision_id, from_client, position, text, evidence_blob, created_at
		 FROM debate_args WHERE decision_id = ? ORDER BY created_at`, decisionID)
}

func (s *RoomStore) ListRoomDebateArguments(ctx context.Context, roomID string) ([]store.DebateArgumentData, error) {
	return s.queryDebateArgs(ctx,
		`SELECT a.id, a.decision_id, a.from_client, a.position, a.text, a.evidence_blob, a.created_at
		 FROM debate_args a
		 JOIN decisions d ON d.id = a.decision_id
		 WHERE d.room_id = ? ORDER BY a.created_at`, roomID)
}

func (s *RoomStore) queryDebateArgs(ctx context.Context, query string, arg any) ([]store.DebateArgumentData, error) {
	rows, err := s.db.reader.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DebateArgumentData
	for rows.Next() {
		var (
			a        store.DebateArgumentData
			evidence sql.NullString
			created  string
		)
		if err := rows.Scan(&a.ID, &a.DecisionID, &a.From, &a.Position, &a.Text, &evidence, &created); err != nil {
			return nil, err
		}
		if evidence.Valid && evidence.String != "" {
			_ = json.Unmarshal([]byte(evidence.String), &a.Evidence)
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Votes ---

func (s *RoomStore) UpsertVote(ctx context.Context, v *store.VoteData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO votes (decision_id, voter, approve, veto, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (decision_id, voter) DO UPDATE SET
		   approve = excluded.approve, veto = excluded.veto,
		   weight = excluded.weight, created_at = excluded.created_at`,
		v.DecisionID, v.Voter, boolInt(v.Approve), boolInt(v.Veto), v.Weight, fmtTime(v.CreatedAt))
	return err
}

func (s *RoomStore) ListVotes(ctx context.Context, decisionID string) ([]store.VoteData, error) {
	return s.queryVotes(ctx,
		`SELECT decision_id, voter, approve, veto, weight, created_at
		 FROM votes WHERE decision_id = ? ORDER BY created_at`, decisionID)
}

func (s *RoomStore) ListRoomVotes(ctx context.Context, roomID string) ([]store.VoteData, error) {
	return s.queryVotes(ctx,
		`SELECT v.decision_id, v.voter, v.approve, v.veto, v.weight, v.created_at
		 FROM votes v
		 JOIN decisions d ON d.id = v.decision_id
		 WHERE d.room_id = ? ORDER BY v.created_at`, roomID)
}

func (s *RoomStore) queryVotes(ctx context.Context, query string, arg any) ([]store.VoteData, error) {
	rows, err := s.db.reader.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.VoteData
	for rows.Next() {
		var (
			v             store.VoteData
			approve, veto int
			created       string
		)
		if err := rows.Scan(&v.DecisionID, &v.Voter, &approve, &veto, &v.Weight, &created); err != nil {
			return nil, err
		}
		v.Approve = approve != 0
		v.Veto = veto != 0
		v.CreatedAt = parseTime(created)
		out = append(out, v)
	}
	return out, rows.Err()
}
