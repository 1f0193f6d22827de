package guest

import (
	"context"
	"log/slog"
	"strings"
)

// Persisted roles. The durable store collapses engine roles to two
// values; system and tool turns carry orchestration bookkeeping and are
// not persisted.
const (
	PersistedAI    = "AI"
	PersistedHuman = "HUMAN"
)

// imagePlaceholder stands in for the text field when a message carries
// only an image.
const imagePlaceholder = "[imagen]"

// PersistFunc stores one message durably for a member and returns the
// stored message id.
type PersistFunc func(ctx context.Context, memberID, role, text string, attachments []string) (string, error)

// Migrator drains a guest's buffered conversation into durable storage
// once the guest becomes a registered member.
type Migrator struct {
	buffer *Buffer
	logger *slog.Logger
}

// NewMigrator creates a migrator over the given buffer.
func NewMigrator(buffer *Buffer, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{buffer: buffer, logger: logger}
}

// Migrate transfers the buffered history for phone to the member's
// durable conversation, in original order. Persistence is per-message
// best-effort: a failed message is logged and skipped, the rest are
// still attempted. The buffer entry is cleared on every exit path;
// this runs exactly once at registration, and partial migration beats
// leaking the buffer forever.
func (m *Migrator) Migrate(ctx context.Context, phone, memberID string, persist PersistFunc) {
	history := m.buffer.History(phone)
	if len(history) == 0 {
		return
	}
	defer m.buffer.Clear(phone)

	stored, skipped, failed := 0, 0, 0
	for i, msg := range history {
		role, ok := persistedRole(msg.Role)
		if !ok {
			skipped++
			continue
		}

		text, images := flatten(msg)
		if text == "" && len(images) == 0 {
			skipped++
			continue
		}
		if text == "" {
			text = imagePlaceholder
		}

		if _, err := persist(ctx, memberID, role, text, images); err != nil {
			failed++
			m.logger.Warn("guest message migration failed",
				"phone", phone,
				"member_id", memberID,
				"index", i,
				"error", err,
			)
			continue
		}
		stored++
	}

	m.logger.Info("guest conversation migrated",
		"phone", phone,
		"member_id", memberID,
		"stored", stored,
		"skipped", skipped,
		"failed", failed,
	)
}

// persistedRole maps an engine role to its persisted form. The second
// return is false for internal-only roles.
func persistedRole(role string) (string, bool) {
	switch role {
	case RoleAssistant:
		return PersistedAI, true
	case RoleUser:
		return PersistedHuman, true
	default:
		return "", false
	}
}

// flatten collapses structured parts into a plain text field plus a
// list of image attachment URLs.
func flatten(msg Message) (string, []string) {
	var texts []string
	var images []string
	for _, part := range msg.Parts {
		if t := strings.TrimSpace(part.Text); t != "" {
			texts = append(texts, t)
		}
		if part.Image != nil && part.Image.URL != "" {
			images = append(images, part.Image.URL)
		}
	}
	return strings.Join(texts, "\n"), images
}
