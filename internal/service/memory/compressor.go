// Package memory compresses finished journaling sessions into rolling
// summaries and assembles the memory context for the next conversation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/zhouzirui/z-journal/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-journal/backend/internal/analysis/redact"
	"github.com/zhouzirui/z-journal/backend/internal/logger"
	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
	"github.com/zhouzirui/z-journal/backend/internal/service/llm"
)

// PlaceholderSummary is stored when no usable summary could be produced.
const PlaceholderSummary = "Summary unavailable for this session."

// Invoker is the model call the compressor depends on. *llm.Invoker
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string, out *llm.OutputSchema) (llm.Result, error)
}

// SummarySchema is the structured output requested from the model.
var SummarySchema = llm.MustOutputSchema("rolling_summary", &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"daily_summary":      {Type: "string"},
		"key_points":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"follow_up_tomorrow": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"safety_flag":        {Type: "boolean"},
	},
	Required: []string{"daily_summary", "key_points", "follow_up_tomorrow", "safety_flag"},
})

const summarySystemPrompt = `You maintain the rolling memory of a private journaling companion.
Read the session transcript, the optional analytics and the carry-over notes from earlier sessions, then write the memory the companion will read at the start of the next session.

Return exactly one JSON object and nothing else, with these fields:
- "daily_summary": string, at most 180 words, third person, describing what the user talked about and how they felt.
- "key_points": array of short strings with facts worth remembering (people, plans, recurring worries).
- "follow_up_tomorrow": array of short strings the companion should gently check on next time.
- "safety_flag": boolean, true only if the user expressed thoughts of self-harm, suicide or being in danger at high risk or above.

Never include names of third parties, email addresses, phone numbers, addresses or any other identifier. Placeholders such as [email] and [phone] must stay as they are.`

// Compressor produces RollingSummary values from session transcripts.
type Compressor struct {
	invoker Invoker
	now     func() time.Time
	log     *slog.Logger
}

// NewCompressor returns a Compressor. A nil invoker makes every compression
// yield the placeholder summary.
func NewCompressor(invoker Invoker) *Compressor {
	return &Compressor{
		invoker: invoker,
		now:     time.Now,
		log:     logger.With("memory.compressor"),
	}
}

// Placeholder is the summary stored when compression cannot produce one.
func Placeholder() model.RollingSummary {
	return model.RollingSummary{
		DailySummary:     PlaceholderSummary,
		KeyPoints:        []string{},
		FollowUpTomorrow: []string{},
	}
}

type payloadMessage struct {
	Role      chat.Role `json:"role"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp"`
}

type compressionPayload struct {
	Messages       []payloadMessage `json:"messages"`
	Analytics      *model.Analytics `json:"analytics,omitempty"`
	CarryOverNotes string           `json:"carry_over_notes,omitempty"`
}

// Compress summarizes turns. It never fails: model or decoding problems
// yield the placeholder summary.
func (c *Compressor) Compress(ctx context.Context, turns []chat.Turn, analytics *model.Analytics, carryOverNotes string) model.RollingSummary {
	summary, _ := c.CompressWithOutcome(ctx, turns, analytics, carryOverNotes)
	return summary
}

// CompressWithOutcome is Compress that also reports how the model output
// was decoded.
func (c *Compressor) CompressWithOutcome(ctx context.Context, turns []chat.Turn, analytics *model.Analytics, carryOverNotes string) (model.RollingSummary, DecodeOutcome) {
	if len(turns) == 0 || c.invoker == nil {
		return Placeholder(), OutcomeFailed
	}

	prepared := prepareTurns(turns)
	payload, err := buildPayload(prepared, analytics, carryOverNotes)
	if err != nil {
		c.log.Error("failed to encode compression payload", "error", err)
		return Placeholder(), OutcomeFailed
	}

	raw := ""
	res, err := c.invoker.Invoke(ctx, summarySystemPrompt, payload, SummarySchema)
	switch {
	case err == nil:
		raw = res.Text
	case errors.Is(err, llm.ErrParse):
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			raw = llmErr.Raw
		}
	default:
		c.log.Warn("summary model call failed, storing placeholder", "error", err)
		return Placeholder(), OutcomeFailed
	}

	decoded := Decode(raw)
	if decoded.Outcome == OutcomeFailed {
		c.log.Warn("summary output could not be decoded, storing placeholder",
			"error", decoded.Err, "raw_length", len(raw))
		return decoded.Summary, OutcomeFailed
	}
	if decoded.Outcome == OutcomeRecovered {
		c.log.Info("summary recovered from loosely formatted output")
	}

	return finalize(decoded.Summary, prepared), decoded.Outcome
}

// prepareTurns redacts every turn and orders them chronologically.
func prepareTurns(turns []chat.Turn) []chat.Turn {
	prepared := make([]chat.Turn, len(turns))
	for i, turn := range turns {
		turn.Text = redact.Redact(turn.Text)
		prepared[i] = turn
	}
	sort.SliceStable(prepared, func(i, j int) bool {
		return prepared[i].Timestamp.Before(prepared[j].Timestamp)
	})
	return prepared
}

func buildPayload(turns []chat.Turn, analytics *model.Analytics, carryOverNotes string) (string, error) {
	payload := compressionPayload{
		Messages:       make([]payloadMessage, 0, len(turns)),
		Analytics:      analytics,
		CarryOverNotes: redact.Redact(strings.TrimSpace(carryOverNotes)),
	}
	for _, turn := range turns {
		payload.Messages = append(payload.Messages, payloadMessage{
			Role:      turn.Role,
			Text:      turn.Text,
			Timestamp: turn.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// finalize enforces the stored-summary invariants on decoded output.
func finalize(summary model.RollingSummary, turns []chat.Turn) model.RollingSummary {
	summary.DailySummary = TruncateWords(redact.Redact(summary.DailySummary), model.MaxSummaryWords)
	if summary.DailySummary == "" {
		summary.DailySummary = PlaceholderSummary
	}
	summary.KeyPoints = redact.All(summary.KeyPoints)
	summary.FollowUpTomorrow = redact.All(summary.FollowUpTomorrow)

	if emotion.MaxRisk(turns) >= emotion.RiskHigh {
		summary.SafetyFlag = true
	}
	return summary
}

// TruncateWords keeps the first limit whitespace-delimited words of text,
// joined by single spaces.
func TruncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:limit], " ")
}

// CarryOverNotes renders a previous summary as notes for the next
// compression.
func CarryOverNotes(prev *model.RollingSummary) string {
	if prev == nil {
		return ""
	}

	var builder strings.Builder
	if prev.DailySummary != "" && prev.DailySummary != PlaceholderSummary {
		builder.WriteString("Previous summary: ")
		builder.WriteString(prev.DailySummary)
	}
	if len(prev.FollowUpTomorrow) > 0 {
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("Open follow-ups: ")
		builder.WriteString(strings.Join(prev.FollowUpTomorrow, "; "))
	}
	return builder.String()
}
