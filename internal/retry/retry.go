// Package retry implements the stage-boundary retry/backoff layer.
//
// Every unreliable stage invocation (collection, extraction, assembly,
// publish, archive writes) runs under Do with a per-stage Policy and a
// stage-specific Classifier. Retryable failures are absorbed here up to the
// attempt budget; terminal failures and exhausted budgets surface to the
// caller, which records them and drives the state machine. Policies are
// plain values loaded from configuration, so classification rules and
// backoff parameters are inspectable and testable independently of any
// call site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class is the retry classification of a failure.
type Class int

const (
	// ClassRetryable marks a transient failure expected to potentially
	// succeed on a later attempt (timeout, rate limit, 5xx).
	ClassRetryable Class = iota

	// ClassTerminal marks a failure retrying would not change (invalid
	// credentials, malformed input). Unclassified errors default here so
	// unknown failure modes surface instead of looping.
	ClassTerminal
)

// Classifier maps a raised error to retryable vs terminal. Each stage
// supplies its own; the classifier, not the call site, owns the mapping.
type Classifier func(error) Class

// Policy holds the retry parameters for one stage.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      float64 // randomization fraction in [0, 1]
}

// withDefaults fills unset fields with conservative defaults.
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 1 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 60 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Attempt describes one resolved attempt, passed to the Recorder.
type Attempt struct {
	Number int           // 1-based attempt number
	Err    error         // nil on success
	Class  Class         // classification of Err (ClassRetryable for nil)
	Delay  time.Duration // backoff before the next attempt, 0 if none follows
}

// Recorder observes every attempt, success or failure. No attempt is
// silently dropped; the pipeline journals each one on the item.
type Recorder func(Attempt)

// Do runs op under the policy. It returns the number of attempts made and
// the final error. A nil error means op eventually succeeded. A non-nil
// error is terminal for the stage: either the classifier ruled it terminal
// or the attempt budget is exhausted.
//
// Backoff is exponential from BaseBackoff up to MaxBackoff with bounded
// jitter, and waits respect ctx cancellation.
func Do(ctx context.Context, policy Policy, classify Classifier, record Recorder, op func(context.Context) error) (int, error) {
	policy = policy.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseBackoff
	bo.MaxInterval = policy.MaxBackoff
	bo.RandomizationFactor = policy.Jitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if record != nil {
				record(Attempt{Number: attempt})
			}
			return attempt, nil
		}

		lastErr = err
		class := ClassTerminal
		if classify != nil {
			class = classify(err)
		}

		var delay time.Duration
		if class == ClassRetryable && attempt < policy.MaxAttempts {
			delay = bo.NextBackOff()
		}

		if record != nil {
			record(Attempt{Number: attempt, Err: err, Class: class, Delay: delay})
		}

		if class == ClassTerminal {
			return attempt, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
	}

	return policy.MaxAttempts, lastErr
}
