// Package journal wires transcripts, rewards and memory compression into
// the journaling session workflow.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-journal/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-journal/backend/internal/logger"
	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	gamemodel "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	memmodel "github.com/zhouzirui/z-journal/backend/internal/model/memory"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/memory"
	"github.com/zhouzirui/z-journal/backend/internal/store"
)

var (
	ErrInvalidTurn = errors.New("invalid turn")
	ErrForbidden   = errors.New("session belongs to another user")
)

// Deps are the collaborators of Service.
type Deps struct {
	Transcripts store.Transcripts
	Summaries   store.Summaries
	Compressor  *memory.Compressor
	Assembler   *memory.Assembler
	Engine      *gamification.Engine
	Runner      *Runner
}

// Service runs the session workflow.
type Service struct {
	transcripts store.Transcripts
	summaries   store.Summaries
	compressor  *memory.Compressor
	assembler   *memory.Assembler
	engine      *gamification.Engine
	runner      *Runner
	now         func() time.Time
	log         *slog.Logger

	mu      sync.Mutex
	pending map[string]map[*SummaryJob]struct{}
	// last is the most recently submitted summary job per user; each job
	// runs after it so carry-over notes chain session by session.
	last map[string]*SummaryJob
}

func NewService(deps Deps) *Service {
	runner := deps.Runner
	if runner == nil {
		runner = NewRunner(1, 0)
	}
	assembler := deps.Assembler
	if assembler == nil {
		assembler = memory.NewAssembler(memory.DefaultRecentTurns)
	}
	return &Service{
		transcripts: deps.Transcripts,
		summaries:   deps.Summaries,
		compressor:  deps.Compressor,
		assembler:   assembler,
		engine:      deps.Engine,
		runner:      runner,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.With("journal"),
		pending:     make(map[string]map[*SummaryJob]struct{}),
		last:        make(map[string]*SummaryJob),
	}
}

// StartSession opens a session for userID.
func (s *Service) StartSession(ctx context.Context, userID string) (chat.Session, error) {
	return s.transcripts.CreateSession(ctx, strings.TrimSpace(userID))
}

// TurnResult is the stored turn and, for user turns, the reward it earned.
type TurnResult struct {
	Turn   chat.Turn
	Reward *gamemodel.Reward
}

// RecordTurn stores a turn. User turns earn a message reward; a reward
// failure is returned alongside the stored turn.
func (s *Service) RecordTurn(ctx context.Context, sessionID string, role chat.Role, text string) (TurnResult, error) {
	if !role.Valid() {
		return TurnResult{}, fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, role)
	}
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, fmt.Errorf("%w: text is required", ErrInvalidTurn)
	}

	session, err := s.transcripts.GetSession(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if session.Ended() {
		return TurnResult{}, store.ErrSessionEnded
	}

	turn, err := s.transcripts.SaveTurn(ctx, chat.Turn{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: s.now(),
	})
	if err != nil {
		return TurnResult{}, err
	}

	result := TurnResult{Turn: turn}
	if role != chat.RoleUser || s.engine == nil {
		return result, nil
	}

	reward, err := s.engine.RewardMessageToday(ctx, session.UserID, sessionID)
	if err != nil {
		return result, fmt.Errorf("reward message: %w", err)
	}
	result.Reward = &reward
	return result, nil
}

// EndResult is what ending a session produces synchronously.
type EndResult struct {
	Session chat.Session
	Reward  *gamemodel.Reward
	Job     *SummaryJob
}

// EndSession closes the session, rewards it and schedules its compression.
// The compression runs detached; a reward failure does not prevent it and
// is returned with the result.
func (s *Service) EndSession(ctx context.Context, sessionID string, stressScore *float64) (EndResult, error) {
	if stressScore != nil && (*stressScore < 0 || *stressScore > 10) {
		return EndResult{}, fmt.Errorf("%w: stress score %.2f outside [0,10]", gamification.ErrValidation, *stressScore)
	}

	session, err := s.transcripts.EndSession(ctx, sessionID, s.now())
	if err != nil {
		return EndResult{}, err
	}

	turns, err := s.transcripts.LoadTranscript(ctx, sessionID)
	if err != nil {
		return EndResult{Session: session}, err
	}

	result := EndResult{Session: session}
	result.Job = s.submitSummary(session, turns)

	if s.engine == nil {
		return result, nil
	}
	reward, err := s.engine.RewardSession(ctx, session.UserID, sessionID, gamification.SessionActivity{
		MessageCount: countUserTurns(turns),
		StressScore:  stressScore,
	})
	if err != nil {
		return result, fmt.Errorf("reward session: %w", err)
	}
	result.Reward = &reward
	return result, nil
}

// MemoryContext assembles the memory for the user's next prompt. Pending
// compressions for the user are awaited first, bounded by ctx.
func (s *Service) MemoryContext(ctx context.Context, userID, sessionID string) (memmodel.Context, error) {
	if strings.TrimSpace(userID) == "" {
		return memmodel.Context{}, store.ErrUserRequired
	}
	s.awaitPending(ctx, userID)

	var recent []chat.Turn
	if sessionID != "" {
		session, err := s.transcripts.GetSession(ctx, sessionID)
		if err != nil {
			return memmodel.Context{}, err
		}
		if session.UserID != userID {
			return memmodel.Context{}, ErrForbidden
		}
		if recent, err = s.transcripts.LoadTranscript(ctx, sessionID); err != nil {
			return memmodel.Context{}, err
		}
	}

	var latest *memmodel.RollingSummary
	rec, err := s.summaries.LatestSummary(ctx, userID)
	if err != nil {
		return memmodel.Context{}, err
	}
	if rec != nil {
		latest = &rec.Summary
	}
	return s.assembler.Assemble(recent, latest), nil
}

// SessionSummary returns the stored summary of one session, or nil.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (*memmodel.SummaryRecord, error) {
	return s.summaries.SessionSummary(ctx, sessionID)
}

// Close waits for background compressions.
func (s *Service) Close(ctx context.Context) error {
	return s.runner.Close(ctx)
}

// submitSummary queues the compression behind the user's previous one, so
// each summary reads the latest summary its predecessor stored.
func (s *Service) submitSummary(session chat.Session, turns []chat.Turn) *SummaryJob {
	s.mu.Lock()
	job := s.runner.SubmitAfter(s.last[session.UserID], session.UserID, session.ID, func(ctx context.Context) SummaryResult {
		return s.summarize(ctx, session, turns)
	})
	s.last[session.UserID] = job
	if s.pending[session.UserID] == nil {
		s.pending[session.UserID] = make(map[*SummaryJob]struct{})
	}
	s.pending[session.UserID][job] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-job.Done()
		s.mu.Lock()
		delete(s.pending[session.UserID], job)
		if len(s.pending[session.UserID]) == 0 {
			delete(s.pending, session.UserID)
		}
		if s.last[session.UserID] == job {
			delete(s.last, session.UserID)
		}
		s.mu.Unlock()

		if err := job.Result().Err; err != nil {
			s.log.Error("session summary failed", "session_id", session.ID, "user_id", session.UserID, "error", err)
		}
	}()
	return job
}

func (s *Service) awaitPending(ctx context.Context, userID string) {
	s.mu.Lock()
	jobs := make([]*SummaryJob, 0, len(s.pending[userID]))
	for job := range s.pending[userID] {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		if _, err := job.Wait(ctx); err != nil {
			s.log.Warn("memory context served before pending summary finished", "user_id", userID, "error", err)
			return
		}
	}
}

// summarize compresses a finished session and stores the result as both
// the session summary and the user's latest summary.
func (s *Service) summarize(ctx context.Context, session chat.Session, turns []chat.Turn) SummaryResult {
	var carryOver string
	prev, err := s.summaries.LatestSummary(ctx, session.UserID)
	if err != nil {
		s.log.Warn("failed to load previous summary, compressing without carry-over", "user_id", session.UserID, "error", err)
	} else if prev != nil {
		carryOver = memory.CarryOverNotes(&prev.Summary)
	}

	analytics := emotion.Summarize(turns)
	summary := memory.Placeholder()
	if s.compressor != nil {
		summary = s.compressor.Compress(ctx, turns, &analytics, carryOver)
	}

	updatedAt := s.now()
	if session.EndedAt != nil {
		updatedAt = *session.EndedAt
	}
	rec := memmodel.SummaryRecord{
		UserID:    session.UserID,
		SessionID: session.ID,
		Summary:   summary,
		UpdatedAt: updatedAt,
	}

	if err := s.summaries.SaveSessionSummary(ctx, rec); err != nil {
		return SummaryResult{Err: fmt.Errorf("save session summary: %w", err)}
	}
	if err := s.summaries.SaveLatestSummary(ctx, rec); err != nil {
		return SummaryResult{Err: fmt.Errorf("save latest summary: %w", err)}
	}

	s.log.Info("session summary stored",
		"session_id", session.ID,
		"user_id", session.UserID,
		"safety_flag", summary.SafetyFlag,
		"key_points", len(summary.KeyPoints),
	)
	return SummaryResult{Record: &rec}
}

func countUserTurns(turns []chat.Turn) int {
	n := 0
	for _, turn := range turns {
		if turn.Role == chat.RoleUser {
			n++
		}
	}
	return n
}
