package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/strandlabs/strand/pkg/models"
)

// PostgresStore is the hosted store. It keeps the platform's legacy table
// names (threads, oai_messages) and resolves claim configuration through
// the kafka_profiles/profiles/vm_api_keys join chain. The platform owns
// the schema; this store never creates it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreFromDSN opens and verifies a connection.
func NewPostgresStoreFromDSN(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *PostgresStore) CreateThread(ctx context.Context, opts CreateThreadOptions) (*models.Thread, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	var metaJSON any
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, created_at, user_id, kafka_profile_id, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, now, nullable(opts.UserID), nullable(opts.KafkaProfileID), metaJSON,
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
		Metadata:       opts.Metadata,
	}, nil
}

func (s *PostgresStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM threads WHERE id = $1`, threadID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetThreadMessages(ctx context.Context, threadID string, limit int, includeSystem bool) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM oai_messages
		 WHERE thread_id = $1 AND ($2 OR message->>'role' <> 'system')
		 ORDER BY created_at ASC
		 LIMIT NULLIF($3, 0)`,
		threadID, includeSystem, limit,
	)
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
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, threadID string, msg models.Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO oai_messages (id, thread_id, message, created_at) VALUES ($1, $2, $3, $4)`,
		id, threadID, string(raw), time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) AddMessages(ctx context.Context, threadID string, msgs []models.Message) error {
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
			`INSERT INTO oai_messages (id, thread_id, message, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), threadID, string(raw), time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteThreadMessages(ctx context.Context, threadID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oai_messages WHERE thread_id = $1`, threadID,
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

func (s *PostgresStore) GetThreadSandboxID(ctx context.Context, threadID string) (string, error) {
	var sandboxID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT sandbox_id FROM threads WHERE id = $1`, threadID,
	).Scan(&sandboxID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sandbox id: %w", err)
	}
	return sandboxID.String, nil
}

func (s *PostgresStore) UpdateThreadSandboxID(ctx context.Context, threadID, sandboxID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads SET sandbox_id = $1 WHERE id = $2`, sandboxID, threadID,
	); err != nil {
		return fmt.Errorf("failed to update sandbox id: %w", err)
	}
	return nil
}

// GetThreadConfig resolves the claim payload: thread columns, the kafka
// profile's memory DSN and global prompt, the owning profile's virtual
// key, and the provisioned VM API key. Absent joins leave fields empty; a
// missing thread returns (nil, nil).
func (s *PostgresStore) GetThreadConfig(ctx context.Context, threadID string) (*models.ThreadConfig, error) {
	var userID, profileID, memoryDSN, globalPrompt, virtualKey, vmAPIKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT t.user_id, t.kafka_profile_id, kp.memory_dsn, kp.global_prompt,
		        p.openai_pk_virtual_key, vk.api_key
		 FROM threads t
		 LEFT JOIN kafka_profiles kp ON kp.id = t.kafka_profile_id
		 LEFT JOIN profiles p ON p.id = kp.user_id
		 LEFT JOIN vm_api_keys vk ON vk.id = t.vm_api_key_id
		 WHERE t.id = $1`,
		threadID,
	).Scan(&userID, &profileID, &memoryDSN, &globalPrompt, &virtualKey, &vmAPIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread config: %w", err)
	}

	cfg := &models.ThreadConfig{
		UserID:         userID.String,
		KafkaProfileID: profileID.String,
		MemoryDSN:      memoryDSN.String,
		GlobalPrompt:   globalPrompt.String,
		VMAPIKey:       vmAPIKey.String,
	}
	if virtualKey.String != "" {
		cfg.VirtualKeys = map[string]string{"openai": virtualKey.String}
	}
	return cfg, nil
}
