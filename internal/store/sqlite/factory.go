package sqlite

import (
	"fmt"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/internal/store/blob"
)

// NewStores opens the database under dataDir and wires every store.
func NewStores(dataDir string) (*store.Stores, *DB, error) {
	db, err := Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.New(dataDir)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return &store.Stores{
		Messages: NewMessageStore(db),
		Rooms:    NewRoomStore(db),
		Tokens:   NewTokenStore(db),
		Blobs:    blobs,
	}, db, nil
}
