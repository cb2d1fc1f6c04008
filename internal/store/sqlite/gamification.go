package sqlite

import (
	"context"
	"database/sql"

	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
)

func (s *Store) LoadStat(ctx context.Context, userID string) (model.Stat, error) {
	var (
		stat       = model.Stat{UserID: userID}
		lastActive sql.NullString
		updatedAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT xp, level, streak_days, last_active_date, messages_sent, sessions_completed, updated_at
		 FROM gamification_stats WHERE user_id = ?`, userID,
	).Scan(&stat.XP, &stat.Level, &stat.StreakDays, &lastActive, &stat.MessagesSent, &stat.SessionsCompleted, &updatedAt)
	if isNoRows(err) {
		return model.NewStat(userID), nil
	}
	if err != nil {
		return model.Stat{}, wrap("load stat", err)
	}

	if stat.LastActiveDate, err = parseOptionalTime(lastActive); err != nil {
		return model.Stat{}, wrap("parse last_active_date", err)
	}
	if stat.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Stat{}, wrap("parse updated_at", err)
	}
	return stat, nil
}

func (s *Store) SaveStat(ctx context.Context, stat model.Stat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gamification_stats
		   (user_id, xp, level, streak_days, last_active_date, messages_sent, sessions_completed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   xp = excluded.xp,
		   level = excluded.level,
		   streak_days = excluded.streak_days,
		   last_active_date = excluded.last_active_date,
		   messages_sent = excluded.messages_sent,
		   sessions_completed = excluded.sessions_completed,
		   updated_at = excluded.updated_at`,
		stat.UserID, stat.XP, stat.Level, stat.StreakDays, optionalTime(stat.LastActiveDate),
		stat.MessagesSent, stat.SessionsCompleted, formatTime(stat.UpdatedAt),
	)
	if err != nil {
		return wrap("save stat", err)
	}
	return nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM gamification_stats ORDER BY user_id`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list users", err)
	}
	return ids, nil
}

func (s *Store) ListBadges(ctx context.Context, userID string) ([]model.UserBadge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT badge_code, earned_at FROM user_badges WHERE user_id = ? ORDER BY earned_at, badge_code`, userID)
	if err != nil {
		return nil, wrap("list badges", err)
	}
	defer rows.Close()

	var grants []model.UserBadge
	for rows.Next() {
		var (
			grant    = model.UserBadge{UserID: userID}
			earnedAt string
		)
		if err := rows.Scan(&grant.BadgeCode, &earnedAt); err != nil {
			return nil, wrap("scan badge", err)
		}
		if grant.EarnedAt, err = parseTime(earnedAt); err != nil {
			return nil, wrap("parse earned_at", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list badges", err)
	}
	return grants, nil
}

// GrantBadge relies on UNIQUE(user_id, badge_code); a duplicate insert
// affects no rows.
func (s *Store) GrantBadge(ctx context.Context, grant model.UserBadge) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_badges (user_id, badge_code, earned_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, badge_code) DO NOTHING`,
		grant.UserID, grant.BadgeCode, formatTime(grant.EarnedAt),
	)
	if err != nil {
		return false, wrap("grant badge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("grant badge", err)
	}
	return n == 1, nil
}
