package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
	"github.com/zhouzirui/z-journal/backend/internal/service/llm"
)

type stubInvoker struct {
	calls      int
	userPrompt string
	result     llm.Result
	err        error
}

func (s *stubInvoker) Invoke(_ context.Context, _, userPrompt string, _ *llm.OutputSchema) (llm.Result, error) {
	s.calls++
	s.userPrompt = userPrompt
	return s.result, s.err
}

func returning(text string) *stubInvoker {
	return &stubInvoker{result: llm.Result{Text: text, Tier: "primary", Attempts: 1}}
}

func sampleTurns() []chat.Turn {
	base := time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	return []chat.Turn{
		{Role: chat.RoleAssistant, Text: "How was your day?", Timestamp: base.Add(time.Minute)},
		{Role: chat.RoleUser, Text: "Mail me at jane.doe@example.com", Timestamp: base.Add(2 * time.Minute)},
		{Role: chat.RoleUser, Text: "I started journaling", Timestamp: base},
		{Role: chat.RoleUser, Text: "call +1 415-555-0199 later", Timestamp: base.Add(3 * time.Minute)},
	}
}

func TestCompressRedactsAndOrdersPayload(t *testing.T) {
	inv := returning(`{"daily_summary":"ok","key_points":[],"follow_up_tomorrow":[],"safety_flag":false}`)
	c := NewCompressor(inv)

	_ = c.Compress(context.Background(), sampleTurns(), nil, "reach me at 0044 20 7946 0958")

	require.Equal(t, 1, inv.calls)
	assert.NotContains(t, inv.userPrompt, "jane.doe@example.com")
	assert.NotContains(t, inv.userPrompt, "415-555-0199")
	assert.NotContains(t, inv.userPrompt, "7946")

	var payload compressionPayload
	require.NoError(t, json.Unmarshal([]byte(inv.userPrompt), &payload))
	require.Len(t, payload.Messages, 4)
	assert.Equal(t, "I started journaling", payload.Messages[0].Text)
	assert.Equal(t, "How was your day?", payload.Messages[1].Text)
	assert.Equal(t, "Mail me at [email]", payload.Messages[2].Text)
	assert.Equal(t, "call [phone] later", payload.Messages[3].Text)
	assert.Equal(t, "reach me at [phone]", payload.CarryOverNotes)
}

func TestCompressIncludesAnalytics(t *testing.T) {
	inv := returning(`{"daily_summary":"ok","key_points":[],"follow_up_tomorrow":[],"safety_flag":false}`)
	analytics := &model.Analytics{AvgStress: 4.2, MaxStress: 7, TopEmotions: []string{"anxious"}, TopTopics: []string{"work"}}

	NewCompressor(inv).Compress(context.Background(), sampleTurns(), analytics, "")

	var payload compressionPayload
	require.NoError(t, json.Unmarshal([]byte(inv.userPrompt), &payload))
	require.NotNil(t, payload.Analytics)
	assert.Equal(t, 7.0, payload.Analytics.MaxStress)
	assert.Equal(t, []string{"work"}, payload.Analytics.TopTopics)
}

func TestCompressTruncatesDailySummary(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 250))
	raw, _ := json.Marshal(model.RollingSummary{DailySummary: long, KeyPoints: []string{}, FollowUpTomorrow: []string{}})

	summary, outcome := NewCompressor(returning(string(raw))).CompressWithOutcome(context.Background(), sampleTurns(), nil, "")
	assert.Equal(t, OutcomeStrict, outcome)
	assert.Len(t, strings.Fields(summary.DailySummary), model.MaxSummaryWords)
}

func TestCompressRecoversParseErrorRawText(t *testing.T) {
	raw := `Here you go: {"daily_summary":"Call a@b.co soon","key_points":["x"],"follow_up_tomorrow":[],"safety_flag":false}`
	inv := &stubInvoker{err: &llm.Error{Kind: llm.KindParse, Tier: "primary", Raw: raw, Err: errors.New("invalid json")}}

	summary, outcome := NewCompressor(inv).CompressWithOutcome(context.Background(), sampleTurns(), nil, "")
	assert.Equal(t, OutcomeRecovered, outcome)
	assert.Equal(t, "Call [email] soon", summary.DailySummary)
	assert.Equal(t, []string{"x"}, summary.KeyPoints)
}

func TestCompressPlaceholderOnTransientFailure(t *testing.T) {
	inv := &stubInvoker{err: &llm.Error{Kind: llm.KindTransient, Tier: "fallback", Err: errors.New("503")}}

	summary := NewCompressor(inv).Compress(context.Background(), sampleTurns(), nil, "")
	assert.Equal(t, Placeholder(), summary)
}

func TestCompressPlaceholderOnGarbage(t *testing.T) {
	summary, outcome := NewCompressor(returning("no json here")).CompressWithOutcome(context.Background(), sampleTurns(), nil, "")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, PlaceholderSummary, summary.DailySummary)
	assert.Empty(t, summary.KeyPoints)
	assert.False(t, summary.SafetyFlag)
}

func TestCompressEmptyTurnsSkipsModel(t *testing.T) {
	inv := returning("unused")
	summary := NewCompressor(inv).Compress(context.Background(), nil, nil, "notes")
	assert.Zero(t, inv.calls)
	assert.Equal(t, Placeholder(), summary)
}

func TestCompressNilInvoker(t *testing.T) {
	summary := NewCompressor(nil).Compress(context.Background(), sampleTurns(), nil, "")
	assert.Equal(t, Placeholder(), summary)
}

func TestCompressRaisesSafetyFlagFromTranscript(t *testing.T) {
	turns := []chat.Turn{{Role: chat.RoleUser, Text: "I keep thinking I want to end my life", Timestamp: time.Now()}}
	inv := returning(`{"daily_summary":"A hard day.","key_points":[],"follow_up_tomorrow":[],"safety_flag":false}`)

	summary := NewCompressor(inv).Compress(context.Background(), turns, nil, "")
	assert.True(t, summary.SafetyFlag)
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "a b c", TruncateWords("  a \n b\tc  ", 5))
	assert.Equal(t, "a b", TruncateWords("a b c", 2))
	assert.Equal(t, "", TruncateWords("   ", 3))
}

func TestCarryOverNotes(t *testing.T) {
	assert.Empty(t, CarryOverNotes(nil))

	placeholder := Placeholder()
	assert.Empty(t, CarryOverNotes(&placeholder))

	prev := &model.RollingSummary{DailySummary: "Worried about exams.", FollowUpTomorrow: []string{"exam result", "sleep"}}
	notes := CarryOverNotes(prev)
	assert.Contains(t, notes, "Worried about exams.")
	assert.Contains(t, notes, "exam result; sleep")
}
