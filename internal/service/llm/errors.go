package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies a failed model invocation.
type Kind int

const (
	// KindFatal failures are returned without trying another tier.
	KindFatal Kind = iota
	// KindTransient failures (overload, rate limit, 5xx, timeout) move on to
	// the fallback tier.
	KindTransient
	// KindParse means the model answered but the output did not satisfy the
	// requested schema.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindParse:
		return "parse"
	default:
		return "fatal"
	}
}

var (
	ErrTransient = errors.New("model temporarily unavailable")
	ErrParse     = errors.New("model output does not match schema")
	ErrFatal     = errors.New("model invocation failed")
	ErrNoTiers   = errors.New("llm policy has no tiers")
)

// Error is returned by Invoker.Invoke. Raw holds the model output for
// KindParse so callers can attempt their own recovery.
type Error struct {
	Kind Kind
	Tier string
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	if e.Tier == "" {
		return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s error on tier %s: %v", e.Kind, e.Tier, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrParse:
		return e.Kind == KindParse
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// transientMarkers are lowercase fragments of provider errors that signal
// capacity problems rather than bad requests.
var transientMarkers = []string{
	"service unavailable",
	"temporarily unavailable",
	"overloaded",
	"overload",
	"server busy",
	"too many requests",
	"rate limit",
	"ratelimit",
	"quota exceeded",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"unexpected eof",
}

// transientStatus matches a retryable HTTP status only where the message
// names it as a status, so digits inside endpoint ids or limits do not count.
var transientStatus = regexp.MustCompile(`\b(?:status(?:[ _]?code)?|http(?:/[0-9.]+)?)\s*[:=]?\s*(?:429|500|502|503|504|529)\b`)

// Classify maps an invocation error to a Kind. Typed errors win over message
// inspection; provider SDKs wrapped by eino do not always preserve the chain.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient
		}
	}
	if transientStatus.MatchString(msg) {
		return KindTransient
	}
	return KindFatal
}
