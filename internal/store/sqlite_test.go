package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/store"
)

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	repo, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestSQLiteStoreSessionRoundTrip(t *testing.T) {
	repo := newSQLiteStore(t)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, "visitor-1", map[string]string{"locale": "de"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := repo.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.VisitorID != "visitor-1" || got.Status != chat.StatusActive {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Metadata["locale"] != "de" {
		t.Fatalf("metadata not preserved: %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(session.CreatedAt) {
		t.Fatalf("created timestamp changed: got %v want %v", got.CreatedAt, session.CreatedAt)
	}
}

func TestSQLiteStoreFindActiveSessionPicksNewest(t *testing.T) {
	repo := newSQLiteStore(t)
	ctx := context.Background()

	first, err := repo.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	first.Status = chat.StatusClosed
	if err := repo.UpdateSession(ctx, first); err != nil {
		t.Fatalf("UpdateSession err: %v", err)
	}

	second, err := repo.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	found, err := repo.FindActiveSession(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("FindActiveSession err: %v", err)
	}
	if found.ID != second.ID {
		t.Fatalf("expected newest open session %s, got %s", second.ID, found.ID)
	}
}

func TestSQLiteStoreUpdateUnknownSession(t *testing.T) {
	repo := newSQLiteStore(t)

	err := repo.UpdateSession(context.Background(), chat.Session{ID: "missing", Status: chat.StatusClosed})
	if err != store.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLiteStoreMessagesOrderedAndBounded(t *testing.T) {
	repo := newSQLiteStore(t)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	contents := []string{"a", "b", "c", "d", "e"}
	for _, content := range contents {
		if _, err := repo.CreateMessage(ctx, chat.Message{
			SessionID: session.ID,
			Sender:    chat.SenderUser,
			Content:   content,
		}); err != nil {
			t.Fatalf("CreateMessage err: %v", err)
		}
	}

	messages, err := repo.ListMessages(ctx, session.ID, 3)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"c", "d", "e"} {
		if messages[i].Content != want {
			t.Fatalf("unexpected message at %d: got %q want %q", i, messages[i].Content, want)
		}
	}
}

func TestSQLiteStoreListSessionsNewestFirst(t *testing.T) {
	repo := newSQLiteStore(t)
	ctx := context.Background()

	if _, err := repo.CreateSession(ctx, "visitor-1", nil); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := repo.CreateSession(ctx, "visitor-2", nil); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].CreatedAt.Before(sessions[1].CreatedAt) {
		t.Fatalf("sessions not newest first")
	}
}
