// Package filestore provides PostgreSQL-backed storage for room attachments.
// Each file is stored with its room, sender and payload; listings come back
// in upload order, newest first, which is the order clients display.
package filestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested file does not exist in the
	// room.
	ErrNotFound = errors.New("filestore: file not found")

	// ErrDuplicate is returned when a file with the same name already exists
	// in the room. File names are unique per room.
	ErrDuplicate = errors.New("filestore: file already exists in room")
)

// FileInfo is the listing view of a stored file.
type FileInfo struct {
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	CreatedAt string `json:"created_at"`
}

// StoredFile is a full file record including its payload.
type StoredFile struct {
	RoomID   string
	Sender   string
	FileName string
	Data     []byte
}

// Store manages attachments in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("filestore: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("filestore: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert stores a file. The per-room uniqueness of file names is checked
// first so the caller gets ErrDuplicate instead of a driver error.
func (s *Store) Insert(ctx context.Context, f StoredFile) error {
	exists, err := s.Exists(ctx, f.RoomID, f.FileName)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	const query = `
		INSERT INTO files (room_id, sender, file_name, file_size, data, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	if _, err := s.db.ExecContext(ctx, query,
		f.RoomID, f.Sender, f.FileName, int64(len(f.Data)), f.Data); err != nil {
		return fmt.Errorf("filestore: insert: %w", err)
	}
	return nil
}

// List returns the room's files newest first, without payloads.
func (s *Store) List(ctx context.Context, roomID string) ([]FileInfo, error) {
	const query = `
		SELECT file_name, file_size, created_at
		FROM files
		WHERE room_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("filestore: list: %w", err)
	}
	defer rows.Close()

	files := make([]FileInfo, 0)
	for rows.Next() {
		var f FileInfo
		var createdAt time.Time
		if err := rows.Scan(&f.FileName, &f.FileSize, &createdAt); err != nil {
			return nil, fmt.Errorf("filestore: scan: %w", err)
		}
		f.CreatedAt = createdAt.Format(time.RFC3339)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filestore: rows: %w", err)
	}
	return files, nil
}

// Get returns a file with its payload, or ErrNotFound.
func (s *Store) Get(ctx context.Context, roomID, fileName string) (StoredFile, error) {
	const query = `
		SELECT sender, data
		FROM files
		WHERE room_id = $1 AND file_name = $2`

	f := StoredFile{RoomID: roomID, FileName: fileName}
	err := s.db.QueryRowContext(ctx, query, roomID, fileName).Scan(&f.Sender, &f.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredFile{}, ErrNotFound
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("filestore: get: %w", err)
	}
	return f, nil
}

// Exists reports whether a file with the given name exists in the room.
func (s *Store) Exists(ctx context.Context, roomID, fileName string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM files WHERE room_id = $1 AND file_name = $2
		)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, roomID, fileName).Scan(&exists); err != nil {
		return false, fmt.Errorf("filestore: exists: %w", err)
	}
	return exists, nil
}

// DeleteRoom removes all files belonging to a room.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("filestore: delete room: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
