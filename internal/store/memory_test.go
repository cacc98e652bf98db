package store

import (
	"context"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

func TestMemoryStore_BasicFlow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	thread, err := s.CreateThread(ctx, CreateThreadOptions{ID: "t-1", SystemMessage: "sys"})
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if thread.ID != "t-1" {
		t.Errorf("thread id = %q, want t-1", thread.ID)
	}

	if _, err := s.CreateThread(ctx, CreateThreadOptions{ID: "t-1"}); err == nil {
		t.Error("duplicate CreateThread should fail")
	}

	if _, err := s.AddMessage(ctx, "t-1", models.Message{Role: models.RoleUser, Content: models.Text("hi")}); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	got, err := s.GetThreadMessages(ctx, "t-1", 0, false)
	if err != nil {
		t.Fatalf("GetThreadMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].Content.Text != "hi" {
		t.Errorf("messages = %+v, want single user hi", got)
	}

	// Mutating the returned slice must not affect the store.
	got[0].Content = models.Text("mutated")
	again, _ := s.GetThreadMessages(ctx, "t-1", 0, false)
	if again[0].Content.Text != "hi" {
		t.Error("store contents were mutated through a read result")
	}
}

func TestMemoryStore_MissingThread(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetThreadMessages(ctx, "nope", 0, false); err == nil {
		t.Error("expected error reading messages of a missing thread")
	}
	if _, err := s.AddMessage(ctx, "nope", models.Message{Role: models.RoleUser, Content: models.Text("x")}); err == nil {
		t.Error("expected error adding message to a missing thread")
	}
}

func TestMemoryStore_SandboxAndConfig(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateThread(ctx, CreateThreadOptions{ID: "t-1"}); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if err := s.UpdateThreadSandboxID(ctx, "t-1", "sb-1"); err != nil {
		t.Fatalf("UpdateThreadSandboxID() error = %v", err)
	}
	id, err := s.GetThreadSandboxID(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetThreadSandboxID() error = %v", err)
	}
	if id != "sb-1" {
		t.Errorf("sandbox id = %q, want sb-1", id)
	}

	cfg, err := s.GetThreadConfig(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetThreadConfig() error = %v", err)
	}
	if cfg != nil {
		t.Errorf("config = %+v, want nil before seeding", cfg)
	}

	s.SetThreadConfig("t-1", &models.ThreadConfig{UserID: "u-1", VMAPIKey: "k"})
	cfg, err = s.GetThreadConfig(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetThreadConfig() error = %v", err)
	}
	if cfg == nil || cfg.UserID != "u-1" || cfg.VMAPIKey != "k" {
		t.Errorf("config = %+v, want seeded values", cfg)
	}
}
