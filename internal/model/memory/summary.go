package memory

import "time"

// MaxSummaryWords bounds RollingSummary.DailySummary.
const MaxSummaryWords = 180

// RollingSummary is the bounded digest handed from one session to the next.
// It is replaced as a whole, never patched.
type RollingSummary struct {
	DailySummary     string   `json:"daily_summary"`
	KeyPoints        []string `json:"key_points"`
	FollowUpTomorrow []string `json:"follow_up_tomorrow"`
	SafetyFlag       bool     `json:"safety_flag"`
}

// Analytics is optional upstream context for the summarizer.
type Analytics struct {
	AvgStress   float64  `json:"avg_stress"`
	MaxStress   float64  `json:"max_stress"`
	TopEmotions []string `json:"top_emotions"`
	TopTopics   []string `json:"top_topics"`
}

// SummaryRecord is a persisted summary, either a user's latest or a
// session's audit copy.
type SummaryRecord struct {
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId"`
	Summary   RollingSummary `json:"summary"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RecentTurn is the role/text projection of a turn used in prompts.
type RecentTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Context is the memory payload injected into the next model prompt.
type Context struct {
	RecentTurns  []RecentTurn `json:"recent_turns"`
	DailySummary *string      `json:"daily_summary"`
	SalientFacts []string     `json:"salient_facts"`
	SafetyNote   *string      `json:"safety_note"`
}
