package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/retry"
	"github.com/quillpress/quill/pkg/ledger"
)

// Coordinator fans an assembled article out to every platform an item
// targets. Each platform dispatch runs in its own goroutine under its own
// retry budget; one platform exhausting its attempts never blocks or fails
// the others. Ledger writes happen only on the calling goroutine, so all
// outcome and journal updates stay serialized under the item's lease.
type Coordinator struct {
	client   *ledger.Client
	registry *Registry
	policy   retry.Policy
}

// NewCoordinator creates a fan-out coordinator over the given adapter
// registry. The policy applies independently to every platform dispatch.
func NewCoordinator(client *ledger.Client, registry *Registry, policy retry.Policy) *Coordinator {
	return &Coordinator{
		client:   client,
		registry: registry,
		policy:   policy,
	}
}

// platformResult carries one dispatch's resolution back to the collector.
// The worker goroutine accumulates its attempt records locally; the
// collector journals them so the ledger client is never written
// concurrently.
type platformResult struct {
	outcome  *ledger.PublishOutcome
	attempts []*ledger.AttemptRecord
}

// Fanout publishes the draft to every platform in item.Platforms and
// records a PublishOutcome per platform. Platforms whose outcome already
// reads succeeded are skipped without a network call, which makes re-runs
// of the publish stage idempotent. It returns the full outcome map once
// every dispatch has resolved.
func (c *Coordinator) Fanout(ctx context.Context, item *ledger.ContentItem, draft *assemble.Draft) (map[string]*ledger.PublishOutcome, error) {
	existing, err := c.client.ListOutcomes(ctx, item.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for %s: %w", item.Hash, err)
	}

	results := make(chan *platformResult, len(item.Platforms))
	dispatched := 0

	for _, platform := range item.Platforms {
		if prev, ok := existing[platform]; ok && prev.Status == ledger.OutcomeSucceeded {
			log.Printf("[Publish] Item %s already on %s (ref %s), skipping", shortHash(item.Hash), platform, prev.ExternalRef)
			continue
		}

		adapter, err := c.registry.Adapter(platform)
		if err != nil {
			// Unknown platform on an item is a config drift, not a
			// transient fault. Record it terminal and move on.
			existing[platform] = c.record(ctx, item.Hash, &platformResult{
				outcome: &ledger.PublishOutcome{
					Platform:      platform,
					Status:        ledger.OutcomeFailedTerminal,
					Attempts:      0,
					LastAttemptMs: time.Now().UnixMilli(),
					LastError:     err.Error(),
				},
			})
			continue
		}

		prevAttempts := 0
		if prev, ok := existing[platform]; ok {
			prevAttempts = prev.Attempts
		}

		dispatched++
		go func(adapter Adapter, prevAttempts int) {
			results <- c.dispatch(ctx, adapter, item, draft, prevAttempts)
		}(adapter, prevAttempts)
	}

	for i := 0; i < dispatched; i++ {
		res := <-results
		existing[res.outcome.Platform] = c.record(ctx, item.Hash, res)
	}

	return existing, nil
}

// dispatch runs one platform's publish under the retry policy. It never
// writes to the ledger; all state lands in the returned platformResult.
func (c *Coordinator) dispatch(ctx context.Context, adapter Adapter, item *ledger.ContentItem, draft *assemble.Draft, prevAttempts int) *platformResult {
	res := &platformResult{
		outcome: &ledger.PublishOutcome{
			Platform: adapter.Name(),
			Status:   ledger.OutcomePending,
		},
	}

	var externalRef string
	record := func(a retry.Attempt) {
		errMsg := ""
		if a.Err != nil {
			errMsg = a.Err.Error()
		}
		res.attempts = append(res.attempts, &ledger.AttemptRecord{
			Stage:    ledger.StagePublish,
			Platform: adapter.Name(),
			Attempt:  prevAttempts + a.Number,
			OK:       a.Err == nil,
			Error:    errMsg,
			AtMs:     time.Now().UnixMilli(),
		})
	}

	attempts, err := retry.Do(ctx, c.policy, Classify, record, func(ctx context.Context) error {
		ref, err := adapter.Publish(ctx, item, draft)
		if err != nil {
			return err
		}
		externalRef = ref
		return nil
	})

	res.outcome.Attempts = prevAttempts + attempts
	res.outcome.LastAttemptMs = time.Now().UnixMilli()

	if err != nil {
		// A dead parent context means we were shut down mid-dispatch, not
		// that the platform rejected us. Leave the outcome retryable so a
		// resume pass picks it up without an operator re-queue. This covers
		// both cancellation and a deadline expiring on the pipeline context.
		if ctx.Err() != nil {
			res.outcome.Status = ledger.OutcomeFailedRetryable
		} else {
			res.outcome.Status = ledger.OutcomeFailedTerminal
		}
		res.outcome.LastError = err.Error()
		log.Printf("[Publish] Item %s failed on %s after %d attempt(s): %v", shortHash(item.Hash), adapter.Name(), res.outcome.Attempts, err)
		return res
	}

	res.outcome.Status = ledger.OutcomeSucceeded
	res.outcome.ExternalRef = externalRef
	log.Printf("[Publish] Item %s published to %s (ref %s)", shortHash(item.Hash), adapter.Name(), externalRef)
	return res
}

// record journals a dispatch's attempts and persists its outcome. Ledger
// write failures here are logged, not returned: the platform call already
// happened, and dropping the publication result over a journal error would
// lose more than it protects.
func (c *Coordinator) record(ctx context.Context, itemHash string, res *platformResult) *ledger.PublishOutcome {
	for _, attempt := range res.attempts {
		if err := c.client.AppendAttempt(ctx, itemHash, attempt); err != nil {
			log.Printf("[Publish] Warning: failed to journal attempt for %s/%s: %v", shortHash(itemHash), res.outcome.Platform, err)
		}
	}
	if err := c.client.SetOutcome(ctx, itemHash, res.outcome); err != nil {
		log.Printf("[Publish] Warning: failed to persist outcome for %s/%s: %v", shortHash(itemHash), res.outcome.Platform, err)
	}
	return res.outcome
}

// shortHash truncates a content hash for log lines.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
