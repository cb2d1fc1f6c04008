package memory

import (
	"sort"
	"strings"

	"github.com/zhouzirui/z-journal/backend/internal/analysis/redact"
	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// DefaultRecentTurns is the number of turns kept when none is configured.
const DefaultRecentTurns = 8

// SafetyNote is attached to the context when the latest summary was flagged.
const SafetyNote = "The previous session contained signs of serious distress. Check in gently on how the user is doing, prioritise their safety and offer crisis resources if they are at risk."

// Assembler builds the memory context injected into the next prompt.
type Assembler struct {
	recentTurns int
}

// NewAssembler keeps the last recentTurns turns; values below 1 select the
// default.
func NewAssembler(recentTurns int) *Assembler {
	if recentTurns < 1 {
		recentTurns = DefaultRecentTurns
	}
	return &Assembler{recentTurns: recentTurns}
}

// Assemble is a pure function of its inputs.
func (a *Assembler) Assemble(recent []chat.Turn, latest *model.RollingSummary) model.Context {
	ordered := append([]chat.Turn(nil), recent...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	if len(ordered) > a.recentTurns {
		ordered = ordered[len(ordered)-a.recentTurns:]
	}

	ctx := model.Context{
		RecentTurns:  make([]model.RecentTurn, 0, len(ordered)),
		SalientFacts: []string{},
	}
	for _, turn := range ordered {
		ctx.RecentTurns = append(ctx.RecentTurns, model.RecentTurn{
			Role: string(turn.Role),
			Text: redact.Redact(turn.Text),
		})
	}

	if latest == nil {
		return ctx
	}

	daily := latest.DailySummary
	ctx.DailySummary = &daily
	ctx.SalientFacts = salientFacts(latest.KeyPoints, latest.FollowUpTomorrow)
	if latest.SafetyFlag {
		note := SafetyNote
		ctx.SafetyNote = &note
	}
	return ctx
}

func salientFacts(lists ...[]string) []string {
	seen := make(map[string]bool)
	facts := make([]string, 0)
	for _, list := range lists {
		for _, item := range list {
			if seen[item] {
				continue
			}
			seen[item] = true
			facts = append(facts, item)
		}
	}
	return facts
}

// Render formats the context as a block for the companion's system prompt.
func Render(ctx model.Context) string {
	var builder strings.Builder

	if ctx.SafetyNote != nil {
		builder.WriteString("Safety: ")
		builder.WriteString(*ctx.SafetyNote)
		builder.WriteString("\n\n")
	}
	if ctx.DailySummary != nil && *ctx.DailySummary != "" {
		builder.WriteString("Last session: ")
		builder.WriteString(*ctx.DailySummary)
		builder.WriteString("\n\n")
	}
	if len(ctx.SalientFacts) > 0 {
		builder.WriteString("Remember:\n")
		for _, fact := range ctx.SalientFacts {
			builder.WriteString("- ")
			builder.WriteString(fact)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}
	if len(ctx.RecentTurns) > 0 {
		builder.WriteString("Recent conversation:\n")
		for _, turn := range ctx.RecentTurns {
			builder.WriteString(turn.Role)
			builder.WriteString(": ")
			builder.WriteString(turn.Text)
			builder.WriteString("\n")
		}
	}
	return strings.TrimSpace(builder.String())
}
