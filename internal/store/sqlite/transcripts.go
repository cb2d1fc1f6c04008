package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

func (s *Store) CreateSession(ctx context.Context, userID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, store.ErrUserRequired
	}
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID, formatTime(session.CreatedAt),
	)
	if err != nil {
		return chat.Session{}, wrap("create session", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var (
		session   = chat.Session{ID: sessionID}
		createdAt string
		endedAt   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, ended_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&session.UserID, &createdAt, &endedAt)
	if isNoRows(err) {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, wrap("get session", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return chat.Session{}, wrap("parse created_at", err)
	}
	if session.EndedAt, err = parseOptionalTime(endedAt); err != nil {
		return chat.Session{}, wrap("parse ended_at", err)
	}
	return session, nil
}

// EndSession sets ended_at once; later calls return store.ErrSessionEnded.
func (s *Store) EndSession(ctx context.Context, sessionID string, at time.Time) (chat.Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(at), sessionID,
	)
	if err != nil {
		return chat.Session{}, wrap("end session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chat.Session{}, wrap("end session", err)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if n == 0 {
		return session, store.ErrSessionEnded
	}
	return session, nil
}

func (s *Store) SaveTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	session, err := s.GetSession(ctx, turn.SessionID)
	if err != nil {
		return chat.Turn{}, err
	}
	if session.Ended() {
		return chat.Turn{}, store.ErrSessionEnded
	}

	turn.ID = uuid.NewString()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, text, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?), ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.SessionID, string(turn.Role), turn.Text, formatTime(turn.Timestamp),
	)
	if err != nil {
		return chat.Turn{}, wrap("save turn", err)
	}
	return turn, nil
}

func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, created_at FROM turns WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, wrap("load transcript", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			turn      = chat.Turn{SessionID: sessionID}
			role      string
			createdAt string
		)
		if err := rows.Scan(&turn.ID, &role, &turn.Text, &createdAt); err != nil {
			return nil, wrap("scan turn", err)
		}
		turn.Role = chat.Role(role)
		if turn.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, wrap("parse created_at", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load transcript", err)
	}
	return turns, nil
}
