package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

var (
	ErrUserRequired    = store.ErrUserRequired
	ErrSessionNotFound = store.ErrSessionNotFound
	ErrSessionEnded    = store.ErrSessionEnded
)

// Service encapsulates journaling session state in memory. It satisfies
// store.Transcripts.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
	now      func() time.Time
}

// NewService bootstraps the in-memory chat service suitable for early iterations.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a journaling session owned by userID.
func (s *Service) CreateSession(_ context.Context, userID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// SaveTurn appends a turn to the session history and returns it with its
// identifier and timestamp filled in.
func (s *Service) SaveTurn(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	if turn.SessionID == "" {
		return chat.Turn{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[turn.SessionID]
	if !ok {
		return chat.Turn{}, ErrSessionNotFound
	}
	if session.Ended() {
		return chat.Turn{}, ErrSessionEnded
	}

	turn.ID = uuid.NewString()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// EndSession closes the session. Ending twice yields ErrSessionEnded.
func (s *Service) EndSession(_ context.Context, sessionID string, at time.Time) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if session.Ended() {
		return session, ErrSessionEnded
	}

	ended := at.UTC()
	session.EndedAt = &ended
	s.sessions[sessionID] = session
	return session, nil
}

// LoadTranscript returns stored turns for the provided session, oldest first.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Timestamp.Before(copied[j].Timestamp)
	})
	return copied, nil
}
