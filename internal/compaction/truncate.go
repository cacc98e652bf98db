package compaction

import (
	"context"
	"log/slog"

	"github.com/strandlabs/strand/pkg/models"
)

// DefaultKeepMessages is how many trailing messages truncation keeps.
const DefaultKeepMessages = 50

// TruncationCompactor keeps the newest messages and drops the rest. It
// needs no model call, which makes it the fallback when summarization is
// unavailable.
type TruncationCompactor struct {
	KeepMessages int
	Logger       *slog.Logger
}

// Compact implements Compactor.
func (c TruncationCompactor) Compact(ctx context.Context, messages []models.Message, systemPrompt, model string) ([]models.Message, error) {
	keep := c.KeepMessages
	if keep <= 0 {
		keep = DefaultKeepMessages
	}

	head, rest := leadingSystem(messages)
	if len(rest) <= keep {
		return messages, nil
	}

	cut := safeSplit(rest, len(rest)-keep)
	out := make([]models.Message, 0, len(head)+len(rest)-cut)
	out = append(out, head...)
	out = append(out, rest[cut:]...)

	if c.Logger != nil {
		c.Logger.Info("compacted history by truncation", "before", len(messages), "after", len(out))
	}
	return Validate(out), nil
}
