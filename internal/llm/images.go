package llm

import "github.com/strandlabs/strand/pkg/models"

// ImageKeepLimit is how many of the newest image parts survive a provider
// call; older ones are pruned to stay inside provider attachment limits.
const ImageKeepLimit = 19

// PruneImages returns messages with all but the newest keep image parts
// dropped from their content lists. Non-image parts are untouched and the
// input slice is never mutated; when nothing needs pruning the input is
// returned as-is.
func PruneImages(messages []models.Message, keep int) []models.Message {
	if keep < 0 {
		keep = 0
	}
	total := 0
	for _, m := range messages {
		for _, p := range m.Content.Parts {
			if p.IsImage() {
				total++
			}
		}
	}
	if total <= keep {
		return messages
	}

	drop := total - keep
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if drop == 0 {
			break
		}
		src := out[i].Content.Parts
		if src == nil {
			continue
		}
		kept := make([]models.ContentPart, 0, len(src))
		for _, p := range src {
			if p.IsImage() && drop > 0 {
				drop--
				continue
			}
			kept = append(kept, p)
		}
		out[i].Content.Parts = kept
	}
	return out
}
