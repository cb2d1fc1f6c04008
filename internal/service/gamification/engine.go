// Package gamification turns journaling activity into XP, levels, streaks
// and badges.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

const (
	MessageXP           = 10
	FirstMessageBonusXP = 15
	SessionXP           = 50
	LongSessionBonusXP  = 25
	// LongSessionMessages is the message count a session must exceed to earn
	// LongSessionBonusXP.
	LongSessionMessages = 10
)

// ErrValidation marks rejected reward inputs.
var ErrValidation = errors.New("invalid reward input")

// SessionActivity describes a completed session.
type SessionActivity struct {
	MessageCount int
	StressScore  *float64
}

// Notifier receives every committed reward.
type Notifier interface {
	Publish(userID string, reward model.Reward)
}

// Options tune an Engine. Zero values select UTC, the wall clock and no
// notifier.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	Notifier Notifier
}

// Engine applies rewards. Updates for one user are serialized; different
// users never contend.
type Engine struct {
	stats     store.Stats
	evaluator *Evaluator
	locks     *KeyedMutex
	loc       *time.Location
	now       func() time.Time
	notifier  Notifier
	log       *slog.Logger
}

func NewEngine(stats store.Stats, evaluator *Evaluator, opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		stats:     stats,
		evaluator: evaluator,
		locks:     NewKeyedMutex(),
		loc:       loc,
		now:       now,
		notifier:  opts.Notifier,
		log:       logger.With("gamification"),
	}
}

// SetNotifier replaces the reward notifier. It must be called before the
// engine is shared.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Evaluator returns the badge evaluator used by the engine.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// RewardMessage grants XP for one user message.
func (e *Engine) RewardMessage(ctx context.Context, userID, sessionID string, firstOfDay bool) (model.Reward, error) {
	if err := validateIDs(userID, sessionID); err != nil {
		return model.Reward{}, err
	}

	xp := MessageXP
	if firstOfDay {
		xp += FirstMessageBonusXP
	}
	return e.apply(ctx, userID, fixedXP(xp), countMessage)
}

// RewardMessageToday grants XP for one user message and decides the
// first-message-of-day bonus from the stat read under the user's lock, so
// concurrent messages earn the bonus once.
func (e *Engine) RewardMessageToday(ctx context.Context, userID, sessionID string) (model.Reward, error) {
	if err := validateIDs(userID, sessionID); err != nil {
		return model.Reward{}, err
	}
	return e.apply(ctx, userID, func(stat model.Stat, today time.Time) int {
		if firstActivityOn(stat, today) {
			return MessageXP + FirstMessageBonusXP
		}
		return MessageXP
	}, countMessage)
}

func countMessage(s *model.Stat) { s.MessagesSent++ }

func fixedXP(xp int) func(model.Stat, time.Time) int {
	return func(model.Stat, time.Time) int { return xp }
}

// firstActivityOn reports whether stat has no activity on calendar day today.
func firstActivityOn(stat model.Stat, today time.Time) bool {
	if stat.LastActiveDate == nil {
		return true
	}
	return !today.Equal(CalendarDate(*stat.LastActiveDate, time.UTC))
}

// RewardSession grants XP for a completed session.
func (e *Engine) RewardSession(ctx context.Context, userID, sessionID string, activity SessionActivity) (model.Reward, error) {
	if err := validateIDs(userID, sessionID); err != nil {
		return model.Reward{}, err
	}
	if activity.MessageCount < 0 {
		return model.Reward{}, fmt.Errorf("%w: message count %d is negative", ErrValidation, activity.MessageCount)
	}
	if s := activity.StressScore; s != nil && (*s < 0 || *s > 10) {
		return model.Reward{}, fmt.Errorf("%w: stress score %.2f outside [0,10]", ErrValidation, *s)
	}

	xp := SessionXP
	if activity.MessageCount > LongSessionMessages {
		xp += LongSessionBonusXP
	}
	return e.apply(ctx, userID, fixedXP(xp), func(s *model.Stat) { s.SessionsCompleted++ })
}

// IsFirstMessageOfDay reports whether the user has no activity recorded for
// the current calendar day.
func (e *Engine) IsFirstMessageOfDay(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	stat, err := e.stats.LoadStat(ctx, userID)
	if err != nil {
		return false, persistence("load stat", err)
	}
	return firstActivityOn(stat, CalendarDate(e.now(), e.loc)), nil
}

// Progress returns the stored stat of a user with its level progress.
func (e *Engine) Progress(ctx context.Context, userID string) (model.Stat, model.LevelProgress, error) {
	stat, err := e.stats.LoadStat(ctx, userID)
	if err != nil {
		return model.Stat{}, model.LevelProgress{}, persistence("load stat", err)
	}
	return stat, Progress(stat.XP), nil
}

// apply runs load, mutate, save and badge evaluation under the user's lock.
// award sees the stat as loaded, before this reward.
func (e *Engine) apply(ctx context.Context, userID string, award func(model.Stat, time.Time) int, mutate func(*model.Stat)) (model.Reward, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	stat, err := e.stats.LoadStat(ctx, userID)
	if err != nil {
		return model.Reward{}, persistence("load stat", err)
	}

	now := e.now()
	today := CalendarDate(now, e.loc)
	xp := award(stat, today)
	before := LevelForXP(stat.XP)
	days, broken := NextStreak(stat.StreakDays, stat.LastActiveDate, today)

	stat.UserID = userID
	stat.XP += xp
	stat.Level = LevelForXP(stat.XP)
	stat.StreakDays = days
	stat.LastActiveDate = &today
	stat.UpdatedAt = now.UTC()
	mutate(&stat)

	if err := e.stats.SaveStat(ctx, stat); err != nil {
		return model.Reward{}, persistence("save stat", err)
	}

	reward := model.Reward{
		XPGained:     xp,
		TotalXP:      stat.XP,
		Level:        stat.Level,
		LeveledUp:    stat.Level > before,
		StreakDays:   stat.StreakDays,
		StreakBroken: broken,
		BadgesEarned: []string{},
	}

	// XP is committed; badges missed here are granted by the next sweep.
	if e.evaluator != nil {
		earned, err := e.evaluator.evaluateStored(ctx, userID, stat)
		if err != nil {
			e.log.Error("badge evaluation failed", "user_id", userID, "error", err)
		}
		reward.BadgesEarned = append(reward.BadgesEarned, earned...)
	}

	e.log.Info("reward applied",
		"user_id", userID,
		"xp_gained", reward.XPGained,
		"total_xp", reward.TotalXP,
		"level", reward.Level,
		"streak_days", reward.StreakDays,
		"badges", reward.BadgesEarned,
	)

	if e.notifier != nil {
		e.notifier.Publish(userID, reward)
	}
	return reward, nil
}

func validateIDs(userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	return nil
}

func persistence(op string, err error) error {
	if errors.Is(err, store.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrPersistence, err)
}
