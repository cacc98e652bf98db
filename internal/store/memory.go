package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and ephemeral runs. All
// reads return copies so callers never share backing slices with the
// store.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*models.Thread
	messages map[string][]models.Message
	configs  map[string]*models.ThreadConfig
	seq      int64
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]models.Message),
		configs:  make(map[string]*models.ThreadConfig),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateThread(ctx context.Context, opts CreateThreadOptions) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.threads[id]; exists {
		return nil, fmt.Errorf("thread already exists: %s", id)
	}

	thread := &models.Thread{
		ID:             id,
		CreatedAt:      time.Now().UTC(),
		UserID:         opts.UserID,
		KafkaProfileID: opts.KafkaProfileID,
		Metadata:       opts.Metadata,
	}
	s.threads[id] = thread

	if opts.SystemMessage != "" {
		s.messages[id] = append(s.messages[id], models.Message{
			Role:    models.RoleSystem,
			Content: models.Text(opts.SystemMessage),
		})
	}

	out := *thread
	return &out, nil
}

func (s *MemoryStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[threadID]
	return ok, nil
}

func (s *MemoryStore) GetThreadMessages(ctx context.Context, threadID string, limit int, includeSystem bool) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.threads[threadID]; !ok {
		return nil, ErrThreadNotFound
	}

	var out []models.Message
	for _, msg := range s.messages[threadID] {
		if !includeSystem && msg.Role == models.RoleSystem {
			continue
		}
		out = append(out, msg.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, threadID string, msg models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return "", ErrThreadNotFound
	}

	s.seq++
	s.messages[threadID] = append(s.messages[threadID], msg.Clone())
	return strconv.FormatInt(s.seq, 10), nil
}

func (s *MemoryStore) AddMessages(ctx context.Context, threadID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}

	for _, msg := range msgs {
		s.seq++
		s.messages[threadID] = append(s.messages[threadID], msg.Clone())
	}
	return nil
}

func (s *MemoryStore) DeleteThreadMessages(ctx context.Context, threadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return 0, ErrThreadNotFound
	}

	count := int64(len(s.messages[threadID]))
	delete(s.messages, threadID)
	return count, nil
}

func (s *MemoryStore) GetThreadSandboxID(ctx context.Context, threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return "", nil
	}
	return thread.SandboxID, nil
}

func (s *MemoryStore) UpdateThreadSandboxID(ctx context.Context, threadID, sandboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread, ok := s.threads[threadID]; ok {
		thread.SandboxID = sandboxID
	}
	return nil
}

func (s *MemoryStore) GetThreadConfig(ctx context.Context, threadID string) (*models.ThreadConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[threadID]
	if !ok {
		return nil, nil
	}
	out := *cfg
	return &out, nil
}

// SetThreadConfig seeds a claim payload; tests use it to simulate the
// hosted store's profile joins.
func (s *MemoryStore) SetThreadConfig(threadID string, cfg *models.ThreadConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[threadID] = cfg
}
