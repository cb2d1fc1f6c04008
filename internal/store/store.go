// Package store defines the persistence contracts of the journaling core and
// ships an in-memory implementation. The sqlite subpackage provides the
// durable one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	"github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

var (
	// ErrPersistence marks failures of the underlying storage. Callers see it
	// through errors.Is; the core never retries storage operations itself.
	ErrPersistence     = errors.New("persistence failure")
	ErrUserRequired    = errors.New("user id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
)

// Stats holds exactly one progression row per user.
type Stats interface {
	// LoadStat returns gamification.NewStat(userID) when the user has no row yet.
	LoadStat(ctx context.Context, userID string) (gamification.Stat, error)
	SaveStat(ctx context.Context, stat gamification.Stat) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Badges is the append-only grant log.
type Badges interface {
	ListBadges(ctx context.Context, userID string) ([]gamification.UserBadge, error)
	// GrantBadge inserts the grant unless (UserID, BadgeCode) already exists
	// and reports whether a row was inserted.
	GrantBadge(ctx context.Context, grant gamification.UserBadge) (bool, error)
}

// Summaries stores rolling summaries per session and the latest per user.
type Summaries interface {
	SaveSessionSummary(ctx context.Context, rec memory.SummaryRecord) error
	// SaveLatestSummary replaces the user's latest summary unless the stored
	// one has a newer UpdatedAt.
	SaveLatestSummary(ctx context.Context, rec memory.SummaryRecord) error
	// LatestSummary returns nil without error when the user has none.
	LatestSummary(ctx context.Context, userID string) (*memory.SummaryRecord, error)
	SessionSummary(ctx context.Context, sessionID string) (*memory.SummaryRecord, error)
}

// Transcripts stores sessions and their ordered turns.
type Transcripts interface {
	CreateSession(ctx context.Context, userID string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) (chat.Session, error)
	SaveTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// BadgeCodes collects the codes of grants into a set.
func BadgeCodes(grants []gamification.UserBadge) map[string]bool {
	set := make(map[string]bool, len(grants))
	for _, g := range grants {
		set[g.BadgeCode] = true
	}
	return set
}
