package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/balatrollm/internal/observability"
	"github.com/harun/balatrollm/internal/tracing"
	"github.com/harun/balatrollm/pkg/game"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Attempt describes one round trip to the provider.
type Attempt struct {
	Number   int
	Request  Request
	Response *Response
	Kind     Kind // empty on success
	Err      error
	Duration time.Duration
}

// AttemptObserver is notified after every attempt.
type AttemptObserver interface {
	ObserveAttempt(ctx context.Context, a Attempt)
}

// Decision is a successfully parsed response.
type Decision struct {
	Action   game.Action
	Response *Response
	Attempts int
	Elapsed  time.Duration
}

// CallerStats summarises a caller's lifetime.
type CallerStats struct {
	Calls               int
	Attempts            int
	Timeouts            int
	TransportErrors     int
	ParseErrors         int
	ConsecutiveTimeouts int
	Usage               TokenUsage
}

// Caller wraps a Provider with retries, backoff and the consecutive-timeout cap.
// A Caller belongs to one session and is not safe for concurrent use.
type Caller struct {
	provider Provider
	policy   RetryPolicy
	logger   zerolog.Logger
	observer AttemptObserver

	consecutiveTimeouts int
	tripped             bool
	stats               CallerStats
}

// NewCaller creates a caller. observer may be nil.
func NewCaller(provider Provider, policy RetryPolicy, observer AttemptObserver, logger zerolog.Logger) (*Caller, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Caller{
		provider: provider,
		policy:   policy,
		observer: observer,
		logger:   logger.With().Str("component", "caller").Str("provider", provider.Name()).Logger(),
	}, nil
}

// Stats returns a snapshot of the caller counters.
func (c *Caller) Stats() CallerStats {
	s := c.stats
	s.ConsecutiveTimeouts = c.consecutiveTimeouts
	return s
}

// Call sends req until it yields a well-formed tool call or the policy gives up.
//
// Transport failures and timeouts are retried up to MaxAttempts. Malformed
// output is retried ParseRetries times, then returned as a KindParse error.
// Once the running count of consecutive timeouts reaches MaxConsecutiveTimeouts
// the call returns ErrTooManyTimeouts and every later call ErrCallerTripped.
func (c *Caller) Call(ctx context.Context, req Request) (_ *Decision, err error) {
	if c.tripped {
		return nil, ErrCallerTripped
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerDecision, "decision.call",
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", req.Model),
	)
	defer func() { tracing.EndSpan(span, err) }()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	c.stats.Calls++
	start := time.Now()

	var (
		transportFailures int
		parseFailures     int
		lastKind          Kind
		lastErr           error
		lastResp          *Response
	)

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := c.policy.Delay(attempt - 1)
			logger.Info().
				Int("attempt", attempt).
				Int64("delayMs", delay.Milliseconds()).
				Str("kind", string(lastKind)).
				Msg("Retrying decision call after backoff")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, kind, elapsed, err := c.attempt(ctx, req, attempt)
		if err == nil {
			c.consecutiveTimeouts = 0
			action, perr := ParseAction(resp)
			if perr == nil {
				c.notify(ctx, Attempt{Number: attempt, Request: req, Response: resp, Duration: elapsed})
				c.addUsage(resp.Usage)
				return &Decision{
					Action:   action,
					Response: resp,
					Attempts: attempt,
					Elapsed:  time.Since(start),
				}, nil
			}
			kind, err = KindParse, perr
			c.stats.ParseErrors++
			c.notify(ctx, Attempt{Number: attempt, Request: req, Response: resp, Kind: KindParse, Err: perr, Duration: elapsed})
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("decision call cancelled: %w", ctxErr)
		}

		lastKind, lastErr, lastResp = kind, err, resp

		switch kind {
		case KindTimeout:
			c.stats.Timeouts++
			c.consecutiveTimeouts++
			logger.Warn().
				Int("attempt", attempt).
				Int("consecutive", c.consecutiveTimeouts).
				Msg("Decision call timed out")
			if c.consecutiveTimeouts >= c.policy.MaxConsecutiveTimeouts {
				c.tripped = true
				logger.Error().Int("consecutive", c.consecutiveTimeouts).Msg("Consecutive timeout cap reached")
				return nil, fmt.Errorf("%w (%d)", ErrTooManyTimeouts, c.consecutiveTimeouts)
			}
			transportFailures++
		case KindTransport:
			c.stats.TransportErrors++
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Decision call failed")
			if errors.Is(err, ErrUnauthorized) {
				return nil, &CallError{Kind: KindTransport, Attempts: attempt, Err: err}
			}
			transportFailures++
		case KindParse:
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Decision response is malformed")
			parseFailures++
			if parseFailures > c.policy.ParseRetries {
				if resp != nil {
					c.addUsage(resp.Usage)
				}
				return nil, &CallError{Kind: KindParse, Attempts: attempt, Err: err, Response: resp}
			}
			continue
		}

		if transportFailures >= c.policy.MaxAttempts {
			return nil, &CallError{Kind: lastKind, Attempts: attempt, Err: lastErr, Response: lastResp}
		}
	}
}

// attempt runs one bounded round trip and classifies the outcome.
// Failed attempts are reported to the observer here, successful ones by Call.
func (c *Caller) attempt(ctx context.Context, req Request, number int) (*Response, Kind, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.policy.PerAttemptTimeout)
	defer cancel()

	c.stats.Attempts++
	start := time.Now()
	resp, err := c.provider.Complete(attemptCtx, req)
	elapsed := time.Since(start)

	var kind Kind
	switch {
	case err == nil && resp == nil:
		kind, err = KindTransport, fmt.Errorf("provider returned no response")
	case err == nil && resp.FinishReason == "content_filter":
		kind, err = KindTransport, ErrContentFiltered
	case err == nil:
	case ctx.Err() == nil && (errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)):
		kind = KindTimeout
	default:
		kind = KindTransport
	}

	result := "success"
	if kind != "" {
		result = string(kind)
	}
	observability.RecordDecisionAttempt(c.provider.Name(), result, elapsed)

	if kind != "" {
		c.notify(ctx, Attempt{Number: number, Request: req, Response: resp, Kind: kind, Err: err, Duration: elapsed})
		return resp, kind, elapsed, err
	}
	return resp, "", elapsed, nil
}

func (c *Caller) notify(ctx context.Context, a Attempt) {
	if c.observer != nil {
		c.observer.ObserveAttempt(ctx, a)
	}
}

func (c *Caller) addUsage(u TokenUsage) {
	c.stats.Usage.InputTokens += u.InputTokens
	c.stats.Usage.OutputTokens += u.OutputTokens
	c.stats.Usage.Cost += u.Cost
	observability.RecordTokens(u.InputTokens, u.OutputTokens)
}

// ParseAction extracts the first tool call of resp as an action.
func ParseAction(resp *Response) (game.Action, error) {
	if resp == nil || len(resp.ToolCalls) == 0 {
		return game.Action{}, ErrNoToolCall
	}
	tc := resp.ToolCalls[0]
	if strings.TrimSpace(tc.Name) == "" {
		return game.Action{}, fmt.Errorf("%w: empty tool name", ErrNoToolCall)
	}

	args := strings.TrimSpace(tc.Arguments)
	if args == "" {
		args = "{}"
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil || obj == nil {
		return game.Action{}, fmt.Errorf("%w: %s", ErrMalformedArguments, tc.Name)
	}

	return game.Action{
		Name:      tc.Name,
		Arguments: json.RawMessage(args),
		Reasoning: resp.Text,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("decision call cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
