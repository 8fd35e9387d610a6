package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Shared-file metadata and code execution persistence for RoomStore.
// File content lives in the blob store, keyed by file id.

const fileCols = `id, room_id, channel_id, filename, content_type, size_bytes, uploaded_by, uploaded_at`

func (s *RoomStore) SaveFile(ctx context.Context, f *store.FileData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO files (`+fileCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RoomID, f.ChannelID, f.Filename, f.ContentType, f.SizeBytes,
		f.UploadedBy, fmtTime(f.UploadedAt))
	return err
}

func (s *RoomStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.db.execWrite(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *RoomStore) GetFile(ctx context.Context, fileID string) (*store.FileData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE id = ?`, fileID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return f, err
}

func (s *RoomStore) ListFiles(ctx context.Context, roomID string) ([]store.FileData, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+fileCols+` FROM files WHERE room_id = ? ORDER BY uploaded_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.FileData
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFile(row rowScanner) (*store.FileData, error) {
	var (
		f        store.FileData
		uploaded string
	)
	if err := row.Scan(&f.ID, &f.RoomID, &f.ChannelID, &f.Filename, &f.ContentType,
		&f.SizeBytes, &f.UploadedBy, &uploaded); err != nil {
		return nil, err
	}
	f.UploadedAt = parseTime(uploaded)
	return &f, nil
}

// --- Code executions ---

const execCols = `id, room_id, channel_id, requested_by, language, code, status, exit_code, stdout, stderr, elapsed_ms, created_at, started_at, finished_at`

func (s *RoomStore) SaveCodeExec(ctx context.Context, e *store.CodeExecData) error {
	_, err := s.db.execWrite(ctx,
		`INSERT INTO code_execs (`+execCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RoomID, e.ChannelID, e.RequestedBy, e.Language, e.Code, e.Status,
		nullIntPtr(e.ExitCode), e.Stdout, e.Stderr, e.ElapsedMS,
		fmtTime(e.CreatedAt), fmtTimePtr(e.StartedAt), fmtTimePtr(e.FinishedAt))
	return err
}

func (s *RoomStore) UpdateCodeExec(ctx context.Context, e *store.CodeExecData) error {
	_, err := s.db.execWrite(ctx,
		`UPDATE code_execs SET status = ?, exit_code = ?, stdout = ?, stderr = ?,
		   elapsed_ms = ?, started_at = ?, finished_at = ?
		 WHERE id = ?`,
		e.Status, nullIntPtr(e.ExitCode), e.Stdout, e.Stderr, e.ElapsedMS,
		fmtTimePtr(e.StartedAt), fmtTimePtr(e.FinishedAt), e.ID)
	return err
}

func (s *RoomStore) GetCodeExec(ctx context.Context, execID string) (*store.CodeExecData, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+execCols+` FROM code_execs WHERE id = ?`, execID)

	var (
		e                 store.CodeExecData
		exitCode          sql.NullInt64
		created           string
		started, finished sql.NullString
	)
	err := row.Scan(&e.ID, &e.RoomID, &e.ChannelID, &e.RequestedBy, &e.Language, &e.Code,
		&e.Status, &exitCode, &e.Stdout, &e.Stderr, &e.ElapsedMS, &created, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		e.ExitCode = &v
	}
	e.CreatedAt = parseTime(created)
	e.StartedAt = parseTimePtr(started)
	e.FinishedAt = parseTimePtr(finished)
	return &e, nil
}

func (s *RoomStore) FailRunningExecs(ctx context.Context, stderr string) (int64, error) {
	res, err := s.db.execWrite(ctx,
		`UPDATE code_execs SET status = ?, stderr = ?, finished_at = ? WHERE status IN (?, ?)`,
		protocol.ExecFailed, stderr, fmtTime(time.Now().UTC()),
		protocol.ExecQueued, protocol.ExecRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
