package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

func (s *Store) SaveSessionSummary(ctx context.Context, rec model.SummaryRecord) error {
	data, err := json.Marshal(rec.Summary)
	if err != nil {
		return wrap("encode summary", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, user_id, summary, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		rec.SessionID, rec.UserID, string(data), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return wrap("save session summary", err)
	}
	return nil
}

// SaveLatestSummary only overwrites rows that are not newer than rec.
func (s *Store) SaveLatestSummary(ctx context.Context, rec model.SummaryRecord) error {
	data, err := json.Marshal(rec.Summary)
	if err != nil {
		return wrap("encode summary", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO latest_summaries (user_id, session_id, summary, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   session_id = excluded.session_id,
		   summary = excluded.summary,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= latest_summaries.updated_at`,
		rec.UserID, rec.SessionID, string(data), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return wrap("save latest summary", err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, userID string) (*model.SummaryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, summary, updated_at FROM latest_summaries WHERE user_id = ?`, userID)
	return scanSummary(row)
}

func (s *Store) SessionSummary(ctx context.Context, sessionID string) (*model.SummaryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, session_id, summary, updated_at FROM session_summaries WHERE session_id = ?`, sessionID)
	return scanSummary(row)
}

func scanSummary(row *sql.Row) (*model.SummaryRecord, error) {
	var (
		rec       model.SummaryRecord
		data      string
		updatedAt string
	)
	err := row.Scan(&rec.UserID, &rec.SessionID, &data, &updatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load summary", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Summary); err != nil {
		return nil, wrap("decode summary", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, wrap("parse updated_at", err)
	}
	return &rec, nil
}
