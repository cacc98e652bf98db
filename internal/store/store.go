// Package store persists conversation threads and their messages. One
// interface, two implementations: SQLite for local development and
// Postgres for hosted deployments with the platform schema.
package store

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// ErrThreadNotFound reports an operation against a thread id that does not
// exist.
var ErrThreadNotFound = errors.New("thread not found")

// CreateThreadOptions are the optional fields of a new thread. A zero ID
// means the store generates one.
type CreateThreadOptions struct {
	ID             string
	UserID         string
	KafkaProfileID string
	SystemMessage  string
	Metadata       map[string]any
}

// Store persists threads and their message history.
type Store interface {
	// CreateThread inserts a thread and, when SystemMessage is set, its
	// initial system message.
	CreateThread(ctx context.Context, opts CreateThreadOptions) (*models.Thread, error)

	// ThreadExists reports whether the thread id is known.
	ThreadExists(ctx context.Context, threadID string) (bool, error)

	// GetThreadMessages returns messages oldest-first. A positive limit
	// caps the count; includeSystem false filters system messages out.
	GetThreadMessages(ctx context.Context, threadID string, limit int, includeSystem bool) ([]models.Message, error)

	// AddMessage appends one message and returns its storage id.
	AddMessage(ctx context.Context, threadID string, msg models.Message) (string, error)

	// AddMessages appends several messages atomically.
	AddMessages(ctx context.Context, threadID string, msgs []models.Message) error

	// DeleteThreadMessages removes every message of a thread, keeping the
	// thread row, and returns how many were removed.
	DeleteThreadMessages(ctx context.Context, threadID string) (int64, error)

	// GetThreadSandboxID returns the bound sandbox id, or "" when none.
	GetThreadSandboxID(ctx context.Context, threadID string) (string, error)

	// UpdateThreadSandboxID binds a sandbox id to the thread.
	UpdateThreadSandboxID(ctx context.Context, threadID, sandboxID string) error

	// GetThreadConfig returns the claim payload for the thread, or
	// (nil, nil) when the store has no configuration for it.
	GetThreadConfig(ctx context.Context, threadID string) (*models.ThreadConfig, error)

	Close() error
}
