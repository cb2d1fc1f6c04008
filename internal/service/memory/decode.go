package memory

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	model "github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// DecodeOutcome tells how a summary was obtained from model output.
type DecodeOutcome int

const (
	// OutcomeFailed means nothing usable was found; Summary is the placeholder.
	OutcomeFailed DecodeOutcome = iota
	// OutcomeStrict means the whole output was a well-typed summary object.
	OutcomeStrict
	// OutcomeRecovered means a summary object was salvaged from surrounding
	// text or coerced from loosely typed fields.
	OutcomeRecovered
)

func (o DecodeOutcome) String() string {
	switch o {
	case OutcomeStrict:
		return "strict"
	case OutcomeRecovered:
		return "recovered"
	default:
		return "failed"
	}
}

// DecodeResult is the tagged result of Decode.
type DecodeResult struct {
	Summary model.RollingSummary
	Outcome DecodeOutcome
	Err     error
}

var errNoObject = errors.New("no json object found in model output")

// maxListItems bounds key_points and follow_up_tomorrow.
const maxListItems = 10

// Decode turns raw model output into a RollingSummary. It never fails; the
// outcome records which path produced the summary.
func Decode(raw string) DecodeResult {
	trimmed := strings.TrimSpace(raw)

	if summary, ok := decodeStrict(trimmed); ok {
		return DecodeResult{Summary: summary, Outcome: OutcomeStrict}
	}

	candidate := trimmed
	if !isJSONObject(candidate) {
		candidate = firstBalancedObject(trimmed)
	}
	if candidate == "" || !isJSONObject(candidate) {
		return DecodeResult{Summary: Placeholder(), Outcome: OutcomeFailed, Err: errNoObject}
	}

	return DecodeResult{Summary: coerce(gjson.Parse(candidate)), Outcome: OutcomeRecovered}
}

// decodeStrict accepts only an object carrying all four fields with their
// declared types.
func decodeStrict(text string) (model.RollingSummary, bool) {
	if !isJSONObject(text) {
		return model.RollingSummary{}, false
	}
	doc := gjson.Parse(text)
	if doc.Get("daily_summary").Type != gjson.String ||
		!doc.Get("key_points").IsArray() ||
		!doc.Get("follow_up_tomorrow").IsArray() ||
		!isBool(doc.Get("safety_flag")) {
		return model.RollingSummary{}, false
	}

	var summary model.RollingSummary
	if err := json.Unmarshal([]byte(text), &summary); err != nil {
		return model.RollingSummary{}, false
	}
	summary.KeyPoints = cleanList(summary.KeyPoints)
	summary.FollowUpTomorrow = cleanList(summary.FollowUpTomorrow)
	return summary, true
}

// coerce reads the summary fields leniently. Missing or malformed lists
// become empty and non-string list items are dropped.
func coerce(doc gjson.Result) model.RollingSummary {
	summary := model.RollingSummary{
		KeyPoints:        stringList(doc.Get("key_points")),
		FollowUpTomorrow: stringList(doc.Get("follow_up_tomorrow")),
	}

	if daily := doc.Get("daily_summary"); daily.Type == gjson.String {
		summary.DailySummary = strings.TrimSpace(daily.Str)
	}

	if flag := doc.Get("safety_flag"); flag.Exists() {
		summary.SafetyFlag = flag.Bool()
	}
	return summary
}

func stringList(value gjson.Result) []string {
	items := make([]string, 0)
	if !value.IsArray() {
		return items
	}
	value.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			items = append(items, item.Str)
		}
		return true
	})
	return cleanList(items)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func isBool(value gjson.Result) bool {
	return value.Type == gjson.True || value.Type == gjson.False
}

func isJSONObject(text string) bool {
	return strings.HasPrefix(text, "{") && gjson.Valid(text) && gjson.Parse(text).IsObject()
}

// firstBalancedObject returns the first {...} substring whose braces
// balance, ignoring braces inside JSON strings. Unbalanced openings are
// skipped.
func firstBalancedObject(text string) string {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > 0 {
			return text[start : end+1]
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
