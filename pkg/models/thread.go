package models

import "time"

// Thread is a persisted conversation.
type Thread struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UserID         string         `json:"user_id,omitempty"`
	KafkaProfileID string         `json:"kafka_profile_id,omitempty"`
	SandboxID      string         `json:"sandbox_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ThreadConfig carries per-thread settings consumed when claiming a
// sandbox. Any field may be empty; callers fall back to process-level
// defaults for whatever is missing.
type ThreadConfig struct {
	UserID         string
	KafkaProfileID string
	MemoryDSN      string
	VirtualKeys    map[string]string
	VMAPIKey       string
	GlobalPrompt   string
}
