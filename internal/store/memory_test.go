package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

func summaryAt(userID, sessionID, text string, at time.Time) memory.SummaryRecord {
	return memory.SummaryRecord{
		UserID:    userID,
		SessionID: sessionID,
		Summary:   memory.RollingSummary{DailySummary: text, KeyPoints: []string{text}, FollowUpTomorrow: []string{}},
		UpdatedAt: at,
	}
}

func TestMemoryStoreLoadStatDefaults(t *testing.T) {
	stat, err := NewMemoryStore().LoadStat(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, gamification.NewStat("u1"), stat)
}

func TestMemoryStoreGrantBadgeIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	grant := gamification.UserBadge{UserID: "u1", BadgeCode: "first_entry", EarnedAt: time.Now()}

	inserted, err := s.GrantBadge(ctx, grant)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.GrantBadge(ctx, grant)
	require.NoError(t, err)
	assert.False(t, inserted)

	grants, err := s.ListBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
	assert.Equal(t, map[string]bool{"first_entry": true}, BadgeCodes(grants))
}

func TestMemoryStoreLatestSummaryIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveLatestSummary(ctx, summaryAt("u1", "s2", "newer", now)))
	require.NoError(t, s.SaveLatestSummary(ctx, summaryAt("u1", "s1", "older", now.Add(-time.Hour))))

	latest, err := s.LatestSummary(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "newer", latest.Summary.DailySummary)

	missing, err := s.LatestSummary(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveSessionSummary(ctx, summaryAt("u1", "s1", "text", time.Now())))

	rec, err := s.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	rec.Summary.KeyPoints[0] = "mutated"

	again, err := s.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "text", again.Summary.KeyPoints[0])
}

func TestCachedSummariesReadAfterWrite(t *testing.T) {
	backing := NewMemoryStore()
	cached, err := NewCachedSummaries(backing, 16)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, cached.SaveLatestSummary(ctx, summaryAt("u1", "s1", "first", now)))
	latest, err := cached.LatestSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "first", latest.Summary.DailySummary)

	require.NoError(t, cached.SaveLatestSummary(ctx, summaryAt("u1", "s2", "second", now.Add(time.Minute))))
	latest, err = cached.LatestSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Summary.DailySummary)

	require.NoError(t, cached.SaveLatestSummary(ctx, summaryAt("u1", "s0", "stale", now.Add(-time.Minute))))
	latest, err = cached.LatestSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Summary.DailySummary)
}

// pausingSummaries blocks the first LatestSummary call after it has read
// the store, until release is closed.
type pausingSummaries struct {
	Summaries
	paused  atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingSummaries) LatestSummary(ctx context.Context, userID string) (*memory.SummaryRecord, error) {
	rec, err := p.Summaries.LatestSummary(ctx, userID)
	if p.paused.CompareAndSwap(false, true) {
		close(p.loaded)
		<-p.release
	}
	return rec, err
}

func TestCachedSummariesIgnoresFillOlderThanSave(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, backing.SaveLatestSummary(ctx, summaryAt("u1", "s1", "old", now)))

	slow := &pausingSummaries{Summaries: backing, loaded: make(chan struct{}), release: make(chan struct{})}
	cached, err := NewCachedSummaries(slow, 16)
	require.NoError(t, err)
	defer cached.Close()

	done := make(chan *memory.SummaryRecord, 1)
	go func() {
		rec, err := cached.LatestSummary(ctx, "u1")
		assert.NoError(t, err)
		done <- rec
	}()
	<-slow.loaded

	require.NoError(t, cached.SaveLatestSummary(ctx, summaryAt("u1", "s2", "new", now.Add(time.Minute))))
	close(slow.release)
	assert.Equal(t, "old", (<-done).Summary.DailySummary)

	latest, err := cached.LatestSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.Summary.DailySummary)
}
