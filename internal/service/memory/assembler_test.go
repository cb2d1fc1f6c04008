package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

func TestAssembleWithoutSummary(t *testing.T) {
	ctx := NewAssembler(8).Assemble(nil, nil)

	assert.Nil(t, ctx.DailySummary)
	assert.Nil(t, ctx.SafetyNote)
	assert.NotNil(t, ctx.SalientFacts)
	assert.Empty(t, ctx.SalientFacts)
	assert.Empty(t, ctx.RecentTurns)
}

func TestAssembleKeepsLastTurnsRedacted(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	turns := make([]chat.Turn, 0, 12)
	for i := 0; i < 12; i++ {
		turns = append(turns, chat.Turn{
			Role:      chat.RoleUser,
			Text:      fmt.Sprintf("turn %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	turns[11].Text = "write to me@example.org"

	ctx := NewAssembler(3).Assemble(turns, nil)
	require.Len(t, ctx.RecentTurns, 3)
	assert.Equal(t, "turn 9", ctx.RecentTurns[0].Text)
	assert.Equal(t, "write to [email]", ctx.RecentTurns[2].Text)
	assert.Equal(t, "user", ctx.RecentTurns[2].Role)
}

func TestAssembleSalientFactsAndSafetyNote(t *testing.T) {
	latest := &model.RollingSummary{
		DailySummary:     "Discussed a tough week.",
		KeyPoints:        []string{"exam on friday", "sleeping badly"},
		FollowUpTomorrow: []string{"sleeping badly", "ask about exam"},
		SafetyFlag:       true,
	}

	ctx := NewAssembler(0).Assemble(nil, latest)
	require.NotNil(t, ctx.DailySummary)
	assert.Equal(t, "Discussed a tough week.", *ctx.DailySummary)
	assert.Equal(t, []string{"exam on friday", "sleeping badly", "ask about exam"}, ctx.SalientFacts)
	require.NotNil(t, ctx.SafetyNote)
	assert.Equal(t, SafetyNote, *ctx.SafetyNote)
}

func TestAssembleIsPure(t *testing.T) {
	latest := &model.RollingSummary{DailySummary: "x", KeyPoints: []string{"a"}}
	turns := []chat.Turn{{Role: chat.RoleAssistant, Text: "hi"}}
	a := NewAssembler(2)

	assert.Equal(t, a.Assemble(turns, latest), a.Assemble(turns, latest))
	assert.Nil(t, a.Assemble(turns, latest).SafetyNote)
}

func TestRender(t *testing.T) {
	latest := &model.RollingSummary{DailySummary: "Talked about work.", KeyPoints: []string{"new job"}, SafetyFlag: true}
	turns := []chat.Turn{{Role: chat.RoleUser, Text: "hello"}}

	out := Render(NewAssembler(8).Assemble(turns, latest))
	assert.Contains(t, out, "Safety: ")
	assert.Contains(t, out, "Last session: Talked about work.")
	assert.Contains(t, out, "- new job")
	assert.Contains(t, out, "user: hello")

	assert.Empty(t, Render(model.Context{}))
}
