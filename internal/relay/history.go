package relay

import (
	"context"

	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/store"
)

// HistoryLoader reads the recent tail of a session's transcript, both for
// replay to a fresh attachment and for oracle context. Pure read, never
// mutates session state.
type HistoryLoader struct {
	repo store.Repository
}

func NewHistoryLoader(repo store.Repository) *HistoryLoader {
	return &HistoryLoader{repo: repo}
}

// Load returns up to limit messages ascending by creation time. An empty
// session yields an empty slice, not an error.
func (l *HistoryLoader) Load(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	return l.repo.ListMessages(ctx, sessionID, limit)
}
