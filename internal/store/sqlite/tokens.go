package sqlite

import (
	"context"
	"database/sql"

	"github.com/nextlevelbuilder/agentbus/internal/store"
)

// TokenStore implements store.TokenStore on SQLite.
type TokenStore struct {
	db *DB
}

// NewTokenStore creates the token store.
func NewTokenStore(db *DB) *TokenStore {
	return &TokenStore{db: db}
}

var _ store.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) SaveToken(ctx context.Context, t *store.TokenData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO tokens (token, client_id, created_at, expires_at, revoked)
		 VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.ClientID, fmtTime(t.CreatedAt), fmtTime(t.ExpiresAt), boolInt(t.Revoked))
	return err
}

func (s *TokenStore) GetToken(ctx context.Context, token string) (*store.TokenData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT token, client_id, created_at, expires_at, revoked FROM tokens WHERE token = ?`, token)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (s *TokenStore) RevokeToken(ctx context.Context, token string) error {
	res, err := s.db.execWrite(ctx, `UPDATE tokens SET revoked = 1 WHERE token = ?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *TokenStore) ListTokens(ctx context.Context) ([]store.TokenData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT token, client_id, created_at, expires_at, revoked FROM tokens ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TokenData
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanToken(row rowScanner) (*store.TokenData, error) {
	var (
		t                store.TokenData
		created, expires string
		revoked          int
	)
	if err := row.Scan(&t.Token, &t.ClientID, &created, &expires, &revoked); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.ExpiresAt = parseTime(expires)
	t.Revoked = revoked != 0
	return &t, nil
}
