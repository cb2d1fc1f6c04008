package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

// Definition pairs badge metadata with the predicate that earns it.
type Definition struct {
	model.Badge
	Earned func(stat model.Stat) bool
}

// DefaultCatalog is the static badge catalogue.
var DefaultCatalog = []Definition{
	{
		Badge:  model.Badge{Code: "first_entry", Name: "First Entry", Description: "Wrote your first journal message.", Icon: "pencil"},
		Earned: func(s model.Stat) bool { return s.MessagesSent >= 1 },
	},
	{
		Badge:  model.Badge{Code: "first_session", Name: "First Reflection", Description: "Completed your first journaling session.", Icon: "book"},
		Earned: func(s model.Stat) bool { return s.SessionsCompleted >= 1 },
	},
	{
		Badge:  model.Badge{Code: "sessions_10", Name: "Regular", Description: "Completed ten journaling sessions.", Icon: "books"},
		Earned: func(s model.Stat) bool { return s.SessionsCompleted >= 10 },
	},
	{
		Badge:  model.Badge{Code: "streak_3", Name: "Warming Up", Description: "Journaled three days in a row.", Icon: "flame"},
		Earned: func(s model.Stat) bool { return s.StreakDays >= 3 },
	},
	{
		Badge:  model.Badge{Code: "streak_7", Name: "One Week Strong", Description: "Journaled seven days in a row.", Icon: "fire"},
		Earned: func(s model.Stat) bool { return s.StreakDays >= 7 },
	},
	{
		Badge:  model.Badge{Code: "streak_30", Name: "Habit Formed", Description: "Journaled thirty days in a row.", Icon: "trophy"},
		Earned: func(s model.Stat) bool { return s.StreakDays >= 30 },
	},
	{
		Badge:  model.Badge{Code: "level_5", Name: "Level 5", Description: "Reached level 5.", Icon: "star"},
		Earned: func(s model.Stat) bool { return s.Level >= 5 },
	},
	{
		Badge:  model.Badge{Code: "level_10", Name: "Level 10", Description: "Reached level 10.", Icon: "stars"},
		Earned: func(s model.Stat) bool { return s.Level >= 10 },
	},
	{
		Badge:  model.Badge{Code: "xp_1000", Name: "Thousand Points", Description: "Earned 1000 XP.", Icon: "gem"},
		Earned: func(s model.Stat) bool { return s.XP >= 1000 },
	},
}

// Evaluator grants badges whose predicates hold.
type Evaluator struct {
	stats   store.Stats
	badges  store.Badges
	catalog []Definition
	now     func() time.Time
	log     *slog.Logger
}

// NewEvaluator uses DefaultCatalog when catalog is empty.
func NewEvaluator(stats store.Stats, badges store.Badges, catalog []Definition) *Evaluator {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	return &Evaluator{
		stats:   stats,
		badges:  badges,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.With("gamification.badges"),
	}
}

// Catalog returns the badge metadata in catalogue order.
func (e *Evaluator) Catalog() []model.Badge {
	out := make([]model.Badge, 0, len(e.catalog))
	for _, def := range e.catalog {
		out = append(out, def.Badge)
	}
	return out
}

// Evaluate grants every badge not in existing whose predicate holds for stat
// and returns the codes this call actually inserted. Grants are written
// immediately; a concurrent grant of the same code is not reported twice.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, stat model.Stat, existing map[string]bool) ([]string, error) {
	earned := make([]string, 0)
	for _, def := range e.catalog {
		if existing[def.Code] || !def.Earned(stat) {
			continue
		}

		inserted, err := e.badges.GrantBadge(ctx, model.UserBadge{
			UserID:    userID,
			BadgeCode: def.Code,
			EarnedAt:  e.now(),
		})
		if err != nil {
			return earned, fmt.Errorf("grant badge %s: %w", def.Code, err)
		}
		if inserted {
			earned = append(earned, def.Code)
		}
	}
	return earned, nil
}

// evaluateStored loads the user's grants and evaluates stat against them.
func (e *Evaluator) evaluateStored(ctx context.Context, userID string, stat model.Stat) ([]string, error) {
	grants, err := e.badges.ListBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return e.Evaluate(ctx, userID, stat, store.BadgeCodes(grants))
}

// Sweep re-evaluates one user from stored stats.
func (e *Evaluator) Sweep(ctx context.Context, userID string) ([]string, error) {
	stat, err := e.stats.LoadStat(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load stat: %w", err)
	}
	return e.evaluateStored(ctx, userID, stat)
}

// SweepAll re-evaluates every user with a stat row. Failures for one user
// are logged and do not stop the sweep; the first one is returned.
func (e *Evaluator) SweepAll(ctx context.Context) (map[string][]string, error) {
	ids, err := e.stats.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	granted := make(map[string][]string)
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return granted, err
		}
		codes, err := e.Sweep(ctx, id)
		if err != nil {
			e.log.Error("badge sweep failed", "user_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(codes) > 0 {
			granted[id] = codes
		}
	}
	return granted, firstErr
}
