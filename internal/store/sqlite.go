package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/strandlabs/strand/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	metadata TEXT,
	sandbox_id TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
`

// SQLiteStore is the local development store. Messages are stored as their
// full JSON documents so every field round-trips.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path, creating the schema if
// needed. Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps :memory: databases from
	// splitting across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateThread implements Store. UserID and KafkaProfileID ride in the
// thread metadata; the local schema has no dedicated columns for them.
func (s *SQLiteStore) CreateThread(ctx context.Context, opts CreateThreadOptions) (*models.Thread, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	meta := make(map[string]any, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if opts.UserID != "" {
		meta["user_id"] = opts.UserID
	}
	if opts.KafkaProfileID != "" {
		meta["kafka_profile_id"] = opts.KafkaProfileID
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, created_at, metadata) VALUES (?, ?, ?)`,
		id, now, string(metaJSON),
	); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	if opts.SystemMessage != "" {
		msg := models.Message{Role: models.RoleSystem, Content: models.Text(opts.SystemMessage)}
		if _, err := s.AddMessage(ctx, id, msg); err != nil {
			return nil, fmt.Errorf("failed to add system message: %w", err)
		}
	}

	return &models.Thread{
		ID:             id,
		CreatedAt:      now,
		UserID:         opts.UserID,
		KafkaProfileID: opts.KafkaProfileID,
		Metadata:       meta,
	}, nil
}

func (s *SQLiteStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM threads WHERE id = ?`, threadID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) GetThreadMessages(ctx context.Context, threadID string, limit int, includeSystem bool) ([]models.Message, error) {
	query := `SELECT message FROM messages WHERE thread_id = ? ORDER BY id ASC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if !includeSystem && msg.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) AddMessage(ctx context.Context, threadID string, msg models.Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (thread_id, message, created_at) VALUES (?, ?, ?)`,
		threadID, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read insert id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLiteStore) AddMessages(ctx context.Context, threadID string, msgs []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (thread_id, message, created_at) VALUES (?, ?, ?)`,
			threadID, string(raw), time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteThreadMessages(ctx context.Context, threadID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE thread_id = ?`, threadID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) GetThreadSandboxID(ctx context.Context, threadID string) (string, error) {
	var sandboxID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT sandbox_id FROM threads WHERE id = ?`, threadID,
	).Scan(&sandboxID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sandbox id: %w", err)
	}
	return sandboxID.String, nil
}

func (s *SQLiteStore) UpdateThreadSandboxID(ctx context.Context, threadID, sandboxID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET sandbox_id = ? WHERE id = ?`, sandboxID, threadID,
	); err != nil {
		return fmt.Errorf("failed to update sandbox id: %w", err)
	}
	return nil
}

// GetThreadConfig always returns (nil, nil): the local store carries no
// claim configuration, so sandbox claims fall back to process env.
func (s *SQLiteStore) GetThreadConfig(ctx context.Context, threadID string) (*models.ThreadConfig, error) {
	return nil, nil
}
