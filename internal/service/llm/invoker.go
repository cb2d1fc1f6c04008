package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
)

// maxAttempts bounds one invocation: the primary tier plus one fallback.
const maxAttempts = 2

// DefaultTimeout applies when Policy.Timeout is not set.
const DefaultTimeout = 30 * time.Second

// Tier is one model in the fallback order.
type Tier struct {
	Name  string
	Model model.ChatModel
}

// Policy describes how an Invoker calls its models.
type Policy struct {
	Tiers   []Tier
	Timeout time.Duration
}

// Result is a successful invocation.
type Result struct {
	Text     string
	Tier     string
	Attempts int
}

type compiledTier struct {
	name  string
	chain compose.Runnable[map[string]any, *schema.Message]
}

// Invoker calls the primary model and falls back to the secondary tier on
// transient failures only.
type Invoker struct {
	tiers   []compiledTier
	timeout time.Duration
	log     *slog.Logger
}

// NewInvoker compiles one prompt chain per tier.
func NewInvoker(ctx context.Context, policy Policy) (*Invoker, error) {
	if len(policy.Tiers) == 0 {
		return nil, ErrNoTiers
	}

	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	inv := &Invoker{timeout: timeout, log: logger.With("llm")}
	for i, tier := range policy.Tiers {
		if tier.Model == nil {
			return nil, fmt.Errorf("llm tier %d has no model", i)
		}
		name := tier.Name
		if name == "" {
			name = fmt.Sprintf("tier-%d", i)
		}

		promptTemplate := prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.UserMessage("{query}"),
		)

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(tier.Model)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile chain for tier %s: %w", name, err)
		}
		inv.tiers = append(inv.tiers, compiledTier{name: name, chain: runnable})
	}
	return inv, nil
}

// Invoke runs systemPrompt/userPrompt against the tiers. When out is non-nil
// the text must validate against it; a validation failure is a KindParse
// error carrying the raw text and does not trigger the fallback tier.
func (i *Invoker) Invoke(ctx context.Context, systemPrompt, userPrompt string, out *OutputSchema) (Result, error) {
	attempts := min(len(i.tiers), maxAttempts)

	var lastErr error
	for n := 0; n < attempts; n++ {
		tier := i.tiers[n]
		started := time.Now()

		text, err := i.attempt(ctx, tier, systemPrompt, userPrompt)
		if err == nil {
			if out != nil {
				if verr := out.Validate(text); verr != nil {
					i.log.Warn("model output failed validation",
						"tier", tier.name, "schema", out.Name(), "error", verr)
					return Result{}, &Error{Kind: KindParse, Tier: tier.name, Raw: text, Err: verr}
				}
			}
			i.log.Debug("model invocation succeeded",
				"tier", tier.name, "attempt", n+1, "elapsed", time.Since(started))
			return Result{Text: text, Tier: tier.name, Attempts: n + 1}, nil
		}

		kind := Classify(err)
		if ctx.Err() != nil {
			kind = KindFatal
		}
		lastErr = &Error{Kind: kind, Tier: tier.name, Err: err}
		if kind != KindTransient {
			return Result{}, lastErr
		}
		if n+1 < attempts {
			i.log.Warn("primary model unavailable, falling back",
				"tier", tier.name, "next", i.tiers[n+1].name, "error", err)
		}
	}
	return Result{}, lastErr
}

func (i *Invoker) attempt(ctx context.Context, tier compiledTier, systemPrompt, userPrompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	msg, err := tier.chain.Invoke(attemptCtx, map[string]any{
		"system": systemPrompt,
		"query":  userPrompt,
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, i.timeout, err)
		}
		return "", err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", &Error{Kind: KindFatal, Tier: tier.name, Err: errors.New("empty model response")}
	}
	return strings.TrimSpace(msg.Content), nil
}
