package store

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// MemoryStore keeps stats, badges and summaries in process memory. Suitable
// for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	stats    map[string]gamification.Stat
	badges   map[string][]gamification.UserBadge
	latest   map[string]memory.SummaryRecord
	sessions map[string]memory.SummaryRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stats:    make(map[string]gamification.Stat),
		badges:   make(map[string][]gamification.UserBadge),
		latest:   make(map[string]memory.SummaryRecord),
		sessions: make(map[string]memory.SummaryRecord),
	}
}

func (s *MemoryStore) LoadStat(_ context.Context, userID string) (gamification.Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat, ok := s.stats[userID]
	if !ok {
		return gamification.NewStat(userID), nil
	}
	if stat.LastActiveDate != nil {
		d := *stat.LastActiveDate
		stat.LastActiveDate = &d
	}
	return stat, nil
}

func (s *MemoryStore) SaveStat(_ context.Context, stat gamification.Stat) error {
	if stat.LastActiveDate != nil {
		d := *stat.LastActiveDate
		stat.LastActiveDate = &d
	}
	s.mu.Lock()
	s.stats[stat.UserID] = stat
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.stats))
	for id := range s.stats {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListBadges(_ context.Context, userID string) ([]gamification.UserBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gamification.UserBadge(nil), s.badges[userID]...), nil
}

func (s *MemoryStore) GrantBadge(_ context.Context, grant gamification.UserBadge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.badges[grant.UserID] {
		if existing.BadgeCode == grant.BadgeCode {
			return false, nil
		}
	}
	s.badges[grant.UserID] = append(s.badges[grant.UserID], grant)
	return true, nil
}

func (s *MemoryStore) SaveSessionSummary(_ context.Context, rec memory.SummaryRecord) error {
	s.mu.Lock()
	s.sessions[rec.SessionID] = cloneRecord(rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SaveLatestSummary(_ context.Context, rec memory.SummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.latest[rec.UserID]; ok && current.UpdatedAt.After(rec.UpdatedAt) {
		return nil
	}
	s.latest[rec.UserID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) LatestSummary(_ context.Context, userID string) (*memory.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.latest[userID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemoryStore) SessionSummary(_ context.Context, sessionID string) (*memory.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func cloneRecord(rec memory.SummaryRecord) memory.SummaryRecord {
	rec.Summary.KeyPoints = append([]string(nil), rec.Summary.KeyPoints...)
	rec.Summary.FollowUpTomorrow = append([]string(nil), rec.Summary.FollowUpTomorrow...)
	return rec
}
