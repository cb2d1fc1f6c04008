package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	calls   atomic.Int32
	respond func(ctx context.Context, input []*schema.Message) (*schema.Message, error)
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls.Add(1)
	return f.respond(ctx, input)
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func replying(text string) *fakeChatModel {
	return &fakeChatModel{respond: func(context.Context, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}}
}

func failing(err error) *fakeChatModel {
	return &fakeChatModel{respond: func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, err
	}}
}

func newTestInvoker(t *testing.T, timeout time.Duration, models ...*fakeChatModel) *Invoker {
	t.Helper()
	tiers := make([]Tier, 0, len(models))
	for i, m := range models {
		name := "primary"
		if i > 0 {
			name = "fallback"
		}
		tiers = append(tiers, Tier{Name: name, Model: m})
	}
	inv, err := NewInvoker(context.Background(), Policy{Tiers: tiers, Timeout: timeout})
	require.NoError(t, err)
	return inv
}

var objectSchema = MustOutputSchema("answer", &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"answer": {Type: "string"},
	},
	Required: []string{"answer"},
})

func TestInvokePrimarySuccess(t *testing.T) {
	primary := replying("hello")
	fallback := replying("unused")
	inv := newTestInvoker(t, time.Second, primary, fallback)

	res, err := inv.Invoke(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, "primary", res.Tier)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, fallback.calls.Load())
}

func TestInvokePassesPrompts(t *testing.T) {
	var seen []*schema.Message
	primary := &fakeChatModel{respond: func(_ context.Context, input []*schema.Message) (*schema.Message, error) {
		seen = input
		return schema.AssistantMessage("ok", nil), nil
	}}
	inv := newTestInvoker(t, time.Second, primary)

	_, err := inv.Invoke(context.Background(), "be brief", `{"messages":[]}`, nil)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, schema.System, seen[0].Role)
	assert.Equal(t, "be brief", seen[0].Content)
	assert.Equal(t, `{"messages":[]}`, seen[1].Content)
}

func TestInvokeFallsBackOnTransientError(t *testing.T) {
	primary := failing(errors.New("status code: 503, ServerOverloaded: service unavailable"))
	fallback := replying("from fallback")
	inv := newTestInvoker(t, time.Second, primary, fallback)

	res, err := inv.Invoke(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", res.Text)
	assert.Equal(t, "fallback", res.Tier)
	assert.Equal(t, 2, res.Attempts)
	assert.EqualValues(t, 1, primary.calls.Load())
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestInvokeTimeoutIsTransient(t *testing.T) {
	primary := &fakeChatModel{respond: func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fallback := replying("recovered")
	inv := newTestInvoker(t, 20*time.Millisecond, primary, fallback)

	res, err := inv.Invoke(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
}

func TestInvokeDoesNotFallBackOnFatalError(t *testing.T) {
	primary := failing(errors.New("invalid api key"))
	fallback := replying("unused")
	inv := newTestInvoker(t, time.Second, primary, fallback)

	_, err := inv.Invoke(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Zero(t, fallback.calls.Load())
}

func TestInvokeDoesNotFallBackOnParseError(t *testing.T) {
	primary := replying("Sure! here is the answer: 42")
	fallback := replying(`{"answer":"42"}`)
	inv := newTestInvoker(t, time.Second, primary, fallback)

	_, err := inv.Invoke(context.Background(), "sys", "user", objectSchema)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "Sure! here is the answer: 42", llmErr.Raw)
	assert.Zero(t, fallback.calls.Load())
}

func TestInvokeSchemaViolationIsParseError(t *testing.T) {
	inv := newTestInvoker(t, time.Second, replying(`{"answer":7}`))

	_, err := inv.Invoke(context.Background(), "sys", "user", objectSchema)
	assert.ErrorIs(t, err, ErrParse)
}

func TestInvokeValidOutputPassesSchema(t *testing.T) {
	inv := newTestInvoker(t, time.Second, replying(`{"answer":"yes"}`))

	res, err := inv.Invoke(context.Background(), "sys", "user", objectSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"yes"}`, res.Text)
}

func TestInvokeStopsAfterSecondTransientFailure(t *testing.T) {
	overloaded := errors.New("429 too many requests")
	primary := failing(overloaded)
	fallback := failing(overloaded)
	third := replying("never reached")
	inv := newTestInvoker(t, time.Second, primary, fallback, third)

	_, err := inv.Invoke(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.EqualValues(t, 1, primary.calls.Load())
	assert.EqualValues(t, 1, fallback.calls.Load())
	assert.Zero(t, third.calls.Load())
}

func TestInvokeSingleTierTransientIsReturned(t *testing.T) {
	inv := newTestInvoker(t, time.Second, failing(errors.New("503 service unavailable")))

	_, err := inv.Invoke(context.Background(), "sys", "user", nil)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestInvokeCallerCancellationIsFatal(t *testing.T) {
	primary := &fakeChatModel{respond: func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fallback := replying("unused")
	inv := newTestInvoker(t, time.Second, primary, fallback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Invoke(ctx, "sys", "user", nil)
	assert.ErrorIs(t, err, ErrFatal)
	assert.Zero(t, fallback.calls.Load())
}

func TestNewInvokerRequiresTiers(t *testing.T) {
	_, err := NewInvoker(context.Background(), Policy{})
	assert.ErrorIs(t, err, ErrNoTiers)
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want Kind
	}{
		"deadline":    {context.DeadlineExceeded, KindTransient},
		"canceled":    {context.Canceled, KindFatal},
		"rate limit":  {errors.New("Rate limit reached for requests"), KindTransient},
		"overloaded":  {errors.New("model is overloaded, try again"), KindTransient},
		"bad request": {errors.New("400 invalid parameter: messages"), KindFatal},
		"typed parse": {&Error{Kind: KindParse, Err: errors.New("x")}, KindParse},
		"status 503":  {errors.New("error, status code: 503, request id: 0217, message: busy"), KindTransient},
		"status 429":  {errors.New("unexpected HTTP 429 from upstream"), KindTransient},
		"status_code": {errors.New("request failed status_code=529"), KindTransient},
		"dated endpoint not found": {
			errors.New("InvalidEndpointOrModel: model ep-20250429-abc not found"), KindFatal,
		},
		"limit digits": {
			errors.New("400 invalid parameter: max_tokens must be <= 4096, got 5030"), KindFatal,
		},
		"status 400": {errors.New("error, status code: 400, message: invalid request"), KindFatal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
