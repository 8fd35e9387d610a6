package room

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// UploadFileParams are the arguments of the upload_file action. Content is
// base64 on the wire; the decoded size is what counts against the caps.
type UploadFileParams struct {
	RoomID      string `json:"room_id"`
	ChannelID   string `json:"channel_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// DownloadFileParams are the arguments of the download_file action.
type DownloadFileParams struct {
	FileID   string `json:"file_id"`
	Password string `json:"password,omitempty"`
}

// FileView is the wire shape of shared-file metadata.
type FileView struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	ChannelID   string    `json:"channel_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// FileContentView is a download result: metadata plus base64 content.
type FileContentView struct {
	FileView
	Content string `json:"content"`
}

func fileView(f *store.FileData) FileView {
	return FileView{
		ID:          f.ID,
		RoomID:      f.RoomID,
		ChannelID:   f.ChannelID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		UploadedBy:  f.UploadedBy,
		UploadedAt:  f.UploadedAt,
	}
}

// UploadFile stores a shared file, evicting the oldest files when the room
// cap would be exceeded, and announces the upload in the channel.
func (e *Engine) UploadFile(ctx context.Context, from string, p UploadFileParams) (*FileView, error) {
	content, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return nil, invalid("content is not valid base64: %v", err)
	}
	filename := protocol.SanitizeFilename(p.Filename)

	r, rerr := e.room(p.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.State == store.RoomClosed {
		return nil, conflict("room %q is closed", p.RoomID)
	}
	if m, ok := r.members[from]; !ok || !m.Active {
		return nil, forbidden("client %q is not an active member of room %q", from, p.RoomID)
	}
	if _, ok := r.channels[p.ChannelID]; !ok {
		return nil, notFound("channel %q does not exist in room %q", p.ChannelID, p.RoomID)
	}

	size := int64(len(content))
	cfg := r.data.Config
	if size > cfg.MaxFileBytes {
		return nil, tooLarge("file is %d bytes, per-file cap is %d", size, cfg.MaxFileBytes)
	}
	if size > cfg.MaxTotalFileBytes {
		return nil, tooLarge("file is %d bytes, room cap is %d", size, cfg.MaxTotalFileBytes)
	}

	evicted, eerr := e.evictForSpace(ctx, r, size)
	if eerr != nil {
		return nil, eerr
	}

	f := &store.FileData{
		ID:          store.NewID(),
		RoomID:      p.RoomID,
		ChannelID:   p.ChannelID,
		Filename:    filename,
		ContentType: p.ContentType,
		SizeBytes:   size,
		UploadedBy:  from,
		UploadedAt:  time.Now().UTC(),
	}
	if err := e.stores.Blobs.Write(f.ID, content); err != nil {
		return nil, internal(err)
	}
	if err := e.stores.Rooms.SaveFile(ctx, f); err != nil {
		_ = e.stores.Blobs.Delete(f.ID)
		return nil, internal(err)
	}

	total := r.data.TotalFileBytes + size
	if err := e.stores.Rooms.UpdateRoomFileBytes(ctx, p.RoomID, total); err != nil {
		return nil, internal(err)
	}
	r.data.TotalFileBytes = total

	for _, ev := range evicted {
		r.emit(protocol.EventFileEvicted, map[string]any{
			"file_id": ev.ID, "filename": ev.Filename, "size_bytes": ev.SizeBytes,
		})
	}
	text := fmt.Sprintf("shared file %q (%d bytes)", filename, size)
	meta := metaJSON(map[string]string{"file_id": f.ID})
	if _, perr := r.post(ctx, e, from, p.ChannelID, protocol.RoomMsgSystem, text, "", meta, ""); perr != nil {
		return nil, perr
	}
	view := fileView(f)
	r.emit(protocol.EventFileUploaded, view)
	slog.Info("file uploaded", "room_id", p.RoomID, "file_id", f.ID, "bytes", size, "by", from)
	return &view, nil
}

// evictForSpace removes the oldest files until the incoming size fits under
// the room cap. Caller holds the room lock; eviction order is strictly by
// uploaded_at.
func (e *Engine) evictForSpace(ctx context.Context, r *roomState, incoming int64) ([]store.FileData, error) {
	roomCap := r.data.Config.MaxTotalFileBytes
	if r.data.TotalFileBytes+incoming <= roomCap {
		return nil, nil
	}
	files, err := e.stores.Rooms.ListFiles(ctx, r.data.RoomID)
	if err != nil {
		return nil, internal(err)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})

	var evicted []store.FileData
	total := r.data.TotalFileBytes
	for _, f := range files {
		if total+incoming <= roomCap {
			break
		}
		if err := e.stores.Rooms.DeleteFile(ctx, f.ID); err != nil {
			return nil, internal(err)
		}
		if err := e.stores.Blobs.Delete(f.ID); err != nil {
			slog.Warn("delete evicted blob", "file_id", f.ID, "error", err)
		}
		total -= f.SizeBytes
		evicted = append(evicted, f)
		slog.Info("file evicted", "room_id", r.data.RoomID, "file_id", f.ID, "bytes", f.SizeBytes)
	}
	if err := e.stores.Rooms.UpdateRoomFileBytes(ctx, r.data.RoomID, total); err != nil {
		return nil, internal(err)
	}
	r.data.TotalFileBytes = total
	return evicted, nil
}

// DownloadFile returns a file's bytes and metadata. Membership is not
// required, but a password-protected room still demands its password.
func (e *Engine) DownloadFile(ctx context.Context, p DownloadFileParams) (*FileContentView, error) {
	f, err := e.stores.Rooms.GetFile(ctx, p.FileID)
	if err == store.ErrNotFound {
		return nil, notFound("file %q does not exist", p.FileID)
	}
	if err != nil {
		return nil, internal(err)
	}
	r, rerr := e.room(f.RoomID)
	if rerr != nil {
		return nil, rerr
	}
	r.mu.Lock()
	hash := r.data.PasswordHash
	r.mu.Unlock()
	if !passwordMatches(hash, p.Password) {
		return nil, forbidden("wrong password for room %q", f.RoomID)
	}

	content, err := e.stores.Blobs.Read(f.ID)
	if err != nil {
		return nil, internal(err)
	}
	return &FileContentView{
		FileView: fileView(f),
		Content:  base64.StdEncoding.EncodeToString(content),
	}, nil
}
