package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/quilldesk/chatrelay/internal/model/chat"
)

// SQLiteStore persists sessions and messages in a single sqlite database so
// visitors keep their history across relay restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dsn and applies
// the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			last_active_ms INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_visitor ON sessions(visitor_id, status, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_session ON messages(session_id, created_at_ms DESC, seq DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, visitorID string, metadata map[string]string) (chat.Session, error) {
	if visitorID == "" {
		return chat.Session{}, ErrVisitorRequired
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := chat.Session{
		ID:           uuid.NewString(),
		VisitorID:    visitorID,
		Status:       chat.StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
		Metadata:     copyMetadata(metadata),
	}

	meta, err := encodeMetadata(session.Metadata)
	if err != nil {
		return chat.Session{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, visitor_id, status, created_at_ms, last_active_ms, metadata)
		VALUES(?, ?, ?, ?, ?, ?)
	`, session.ID, session.VisitorID, string(session.Status), now.UnixMilli(), now.UnixMilli(), meta)
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "sqlite store: insert session")
	}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, status, created_at_ms, last_active_ms, metadata
		FROM sessions WHERE id = ?
	`, sessionID)
	return scanSession(row)
}

func (s *SQLiteStore) FindActiveSession(ctx context.Context, visitorID string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, status, created_at_ms, last_active_ms, metadata
		FROM sessions
		WHERE visitor_id = ? AND status != ?
		ORDER BY created_at_ms DESC
		LIMIT 1
	`, visitorID, string(chat.StatusClosed))
	return scanSession(row)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session chat.Session) error {
	meta, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, last_active_ms = ?, metadata = ? WHERE id = ?
	`, string(session.Status), session.LastActiveAt.UnixMilli(), meta, session.ID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: update session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite store: update session")
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}
	if _, err := s.GetSession(ctx, message.SessionID); err != nil {
		return chat.Message{}, err
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(id, session_id, sender, content, created_at_ms)
		VALUES(?, ?, ?, ?, ?)
	`, message.ID, message.SessionID, string(message.Sender), message.Content, message.CreatedAt.UnixMilli())
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: insert message")
	}
	return message, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	query := `
		SELECT id, session_id, sender, content, created_at_ms
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at_ms DESC, seq DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			msg       chat.Message
			sender    string
			createdMs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &sender, &msg.Content, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		msg.Sender = chat.Sender(sender)
		msg.CreatedAt = time.UnixMilli(createdMs).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}

	// Newest-first page, presented oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]chat.Session, error) {
	query := `
		SELECT id, visitor_id, status, created_at_ms, last_active_ms, metadata
		FROM sessions
		ORDER BY created_at_ms DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list sessions")
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0, 16)
	for rows.Next() {
		session, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: list sessions")
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (chat.Session, error) {
	session, err := scanSessionFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, err
}

func scanSessionRows(rows *sql.Rows) (chat.Session, error) {
	return scanSessionFrom(rows)
}

func scanSessionFrom(scanner rowScanner) (chat.Session, error) {
	var (
		session      chat.Session
		status       string
		createdMs    int64
		lastActiveMs int64
		meta         string
	)
	if err := scanner.Scan(&session.ID, &session.VisitorID, &status, &createdMs, &lastActiveMs, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, err
		}
		return chat.Session{}, errors.Wrap(err, "sqlite store: scan session")
	}
	session.Status = chat.Status(status)
	session.CreatedAt = time.UnixMilli(createdMs).UTC()
	session.LastActiveAt = time.UnixMilli(lastActiveMs).UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &session.Metadata); err != nil {
			return chat.Session{}, errors.Wrap(err, "sqlite store: decode metadata")
		}
	}
	return session, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(err, "sqlite store: encode metadata")
	}
	return string(raw), nil
}
