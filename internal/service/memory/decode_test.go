package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStrict(t *testing.T) {
	raw := `{"daily_summary":"Talked about work.","key_points":["new manager"],"follow_up_tomorrow":["ask about the review"],"safety_flag":false}`

	res := Decode(raw)
	require.Equal(t, OutcomeStrict, res.Outcome)
	assert.Equal(t, "Talked about work.", res.Summary.DailySummary)
	assert.Equal(t, []string{"new manager"}, res.Summary.KeyPoints)
	assert.Equal(t, []string{"ask about the review"}, res.Summary.FollowUpTomorrow)
	assert.False(t, res.Summary.SafetyFlag)
}

func TestDecodeRecoversFromProse(t *testing.T) {
	raw := "Sure! Here is the summary:\n```json\n" +
		`{"daily_summary":"Felt {calmer} today","key_points":[],"follow_up_tomorrow":["sleep"],"safety_flag":false}` +
		"\n```\nLet me know if you need more."

	res := Decode(raw)
	require.Equal(t, OutcomeRecovered, res.Outcome)
	assert.Equal(t, "Felt {calmer} today", res.Summary.DailySummary)
	assert.Equal(t, []string{"sleep"}, res.Summary.FollowUpTomorrow)
}

func TestDecodeCoercesMalformedFields(t *testing.T) {
	raw := `{"daily_summary":"ok","key_points":"not a list","follow_up_tomorrow":["a",3,null,"b"],"safety_flag":"true"}`

	res := Decode(raw)
	require.Equal(t, OutcomeRecovered, res.Outcome)
	assert.NotNil(t, res.Summary.KeyPoints)
	assert.Empty(t, res.Summary.KeyPoints)
	assert.Equal(t, []string{"a", "b"}, res.Summary.FollowUpTomorrow)
	assert.True(t, res.Summary.SafetyFlag)
}

func TestDecodeSkipsUnbalancedOpening(t *testing.T) {
	raw := `note { unfinished ... {"daily_summary":"x","key_points":[],"follow_up_tomorrow":[],"safety_flag":true}`

	res := Decode(raw)
	require.Equal(t, OutcomeRecovered, res.Outcome)
	assert.Equal(t, "x", res.Summary.DailySummary)

	raw = `{"daily_summary":"braces \"}\" inside","key_points":[],"follow_up_tomorrow":[],"safety_flag":true} trailing`
	res = Decode(raw)
	require.Equal(t, OutcomeRecovered, res.Outcome)
	assert.Equal(t, `braces "}" inside`, res.Summary.DailySummary)
	assert.True(t, res.Summary.SafetyFlag)
}

func TestDecodeFailsWithoutObject(t *testing.T) {
	res := Decode("I'm sorry, I can't help with that.")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, Placeholder(), res.Summary)
	assert.Error(t, res.Err)
}

func TestFirstBalancedObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, firstBalancedObject(`xx {"a":{"b":1}} {"c":2}`))
	assert.Equal(t, `{"c":2}`, firstBalancedObject(`} { {"c":2}`))
	assert.Equal(t, "", firstBalancedObject(`no braces`))
}
