// Package pipeline drives content items through the collect, extract,
// archive, assemble and publish stages. The engine owns all state
// transitions; stage packages stay pure capabilities that know nothing
// about the ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quillpress/quill/internal/archive"
	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/collect"
	"github.com/quillpress/quill/internal/extract"
	"github.com/quillpress/quill/internal/publish"
	"github.com/quillpress/quill/internal/retry"
	"github.com/quillpress/quill/pkg/ledger"
)

// ErrBusy is returned when another runner holds the lease for the item or
// source being processed. The caller treats it as a coalesced no-op, not a
// failure.
var ErrBusy = errors.New("pipeline: already being processed by another runner")

// Policies holds the per-stage retry policies. The archive stage shares
// the collect policy: both are I/O against infrastructure we own.
type Policies struct {
	Collect  retry.Policy
	Extract  retry.Policy
	Assemble retry.Policy
	Publish  retry.Policy
}

// Engine coordinates the full lifecycle of content items. Each engine
// instance has a unique lease owner ID, so two engines pointed at the same
// ledger never process the same item concurrently.
type Engine struct {
	client       *ledger.Client
	store        *archive.Store
	collector    *collect.Collector
	extractor    *extract.Extractor
	assembler    *assemble.Assembler
	fanout       *publish.Coordinator
	platforms    []string
	policies     Policies
	leaseTTL     time.Duration
	owner        string
	instanceName string
}

// NewEngine creates a pipeline engine. The platforms slice names every
// platform newly collected items will target; items created by earlier
// runs keep the platform set they were created with.
func NewEngine(client *ledger.Client, store *archive.Store, collector *collect.Collector, extractor *extract.Extractor, assembler *assemble.Assembler, registry *publish.Registry, platforms []string, policies Policies, leaseTTL time.Duration, instanceName string) *Engine {
	return &Engine{
		client:       client,
		store:        store,
		collector:    collector,
		extractor:    extractor,
		assembler:    assembler,
		fanout:       publish.NewCoordinator(client, registry, policies.Publish),
		platforms:    platforms,
		policies:     policies,
		leaseTTL:     leaseTTL,
		owner:        uuid.New().String(),
		instanceName: instanceName,
	}
}

// ProcessSource collects one source reference and drives the resulting
// item as far as it can go. The content hash is only known after
// extraction succeeds, so the pre-hash window is guarded by a lease on the
// source reference itself. A concurrent trigger for the same source
// returns ErrBusy.
func (e *Engine) ProcessSource(ctx context.Context, sourceRef string) (*ledger.ContentItem, error) {
	srcLease, err := e.client.AcquireLease(ctx, archive.Hash([]byte(sourceRef)), e.owner, e.leaseTTL)
	if err != nil {
		if errors.Is(err, ledger.ErrLeaseHeld) {
			e.logEvent("source_busy", map[string]interface{}{"source_ref": sourceRef})
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to acquire source lease: %w", err)
	}
	defer e.client.ReleaseLease(context.WithoutCancel(ctx), srcLease)

	// Attempts made before the item exists are buffered and journaled once
	// the content hash is known.
	var journal []*ledger.AttemptRecord
	buffer := func(stage ledger.Stage) retry.Recorder {
		return func(a retry.Attempt) {
			journal = append(journal, attemptRecord(stage, "", a))
		}
	}

	var raw *collect.RawArtifact
	collectAttempts, err := retry.Do(ctx, e.policies.Collect, classifyCollect, buffer(ledger.StageCollect), func(ctx context.Context) error {
		var cerr error
		raw, cerr = e.collector.Collect(ctx, sourceRef)
		return cerr
	})
	if err != nil {
		return e.recordAbandonedSource(ctx, sourceRef, nil, ledger.StageCollect, ledger.ErrorKindSource, err, journal)
	}

	var normalized *extract.Normalized
	extractAttempts, err := retry.Do(ctx, e.policies.Extract, classifyExtract, buffer(ledger.StageExtract), func(ctx context.Context) error {
		var xerr error
		normalized, xerr = e.extractor.Extract(raw)
		return xerr
	})
	if err != nil {
		return e.recordAbandonedSource(ctx, sourceRef, raw, ledger.StageExtract, ledger.ErrorKindFormat, err, journal)
	}

	hash := normalized.ContentHash()

	item, err := e.client.GetItem(ctx, hash)
	if err != nil && !ledger.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up item %s: %w", hash, err)
	}

	if item == nil {
		item = &ledger.ContentItem{
			Hash:      hash,
			SourceRef: sourceRef,
			Title:     normalized.Title,
			State:     ledger.StateExtracted,
			Platforms: e.platforms,
			Attempts: map[ledger.Stage]int{
				ledger.StageCollect: collectAttempts,
				ledger.StageExtract: extractAttempts,
			},
			CollectedAtMs: time.Now().UnixMilli(),
		}
		if err := e.client.PutItem(ctx, item); err != nil {
			if errors.Is(err, ledger.ErrItemExists) {
				// Raced another runner past the source lease TTL; theirs won.
				return e.client.GetItem(ctx, hash)
			}
			return nil, fmt.Errorf("failed to create item: %w", err)
		}
		e.flushJournal(ctx, hash, journal)
		e.logEvent("item_created", map[string]interface{}{
			"item_hash":  hash,
			"source_ref": sourceRef,
			"title":      normalized.Title,
		})
	} else {
		// Same content seen again. The existing record is authoritative;
		// the fresh fetch only matters if the item still needs its bytes.
		e.logEvent("item_rediscovered", map[string]interface{}{
			"item_hash": hash,
			"state":     string(item.State),
		})
		if item.State.Terminal() {
			return item, nil
		}
	}

	return e.runLocked(ctx, item, raw, normalized)
}

// ProcessItem resumes an existing item from whatever state it is in. Items
// that never reached the archive stage have no stored artifacts, so those
// are re-driven from their source reference.
func (e *Engine) ProcessItem(ctx context.Context, hash string) (*ledger.ContentItem, error) {
	item, err := e.client.GetItem(ctx, hash)
	if err != nil {
		return nil, err
	}

	if item.State.Terminal() {
		return item, nil
	}

	if item.NormalizedArtifact == "" {
		settled, err := e.ProcessSource(ctx, item.SourceRef)
		if settled != nil && settled.Hash != item.Hash {
			// The re-run settled under a real content hash; close out the
			// audit record so it does not sit at collected forever.
			e.supersede(ctx, item, settled.Hash)
		}
		return settled, err
	}

	return e.runLocked(ctx, item, nil, nil)
}

// runLocked acquires the item lease and drives the item forward. A held
// lease coalesces to ErrBusy.
func (e *Engine) runLocked(ctx context.Context, item *ledger.ContentItem, raw *collect.RawArtifact, normalized *extract.Normalized) (*ledger.ContentItem, error) {
	lease, err := e.client.AcquireLease(ctx, item.Hash, e.owner, e.leaseTTL)
	if err != nil {
		if errors.Is(err, ledger.ErrLeaseHeld) {
			e.logEvent("item_busy", map[string]interface{}{"item_hash": item.Hash})
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to acquire item lease: %w", err)
	}
	defer e.client.ReleaseLease(context.WithoutCancel(ctx), lease)

	for !item.State.Terminal() {
		if err := e.client.RefreshLease(ctx, lease, e.leaseTTL); err != nil {
			return nil, fmt.Errorf("lost item lease for %s: %w", item.Hash, err)
		}

		var stageErr error
		switch item.State {
		case ledger.StateCollected, ledger.StateExtracted:
			stageErr = e.archiveStage(ctx, item, raw, normalized)
		case ledger.StateArchived, ledger.StateAssembling:
			// Assembling with no advanced article pointer means a previous
			// run died mid-call; redoing the call is safe.
			stageErr = e.assembleStage(ctx, item)
		case ledger.StateAssembled, ledger.StatePublishing:
			stageErr = e.publishStage(ctx, item)
		default:
			return nil, fmt.Errorf("item %s in unexpected state %s", item.Hash, item.State)
		}
		if stageErr != nil {
			return nil, stageErr
		}
	}

	e.logEvent("item_settled", map[string]interface{}{
		"item_hash": item.Hash,
		"state":     string(item.State),
	})
	return item, nil
}

// archiveStage writes the raw and normalized artifacts to the archive
// store and records their hashes on the item. Store writes are
// content-addressed and idempotent, so a crash between the two writes
// costs nothing on redo.
func (e *Engine) archiveStage(ctx context.Context, item *ledger.ContentItem, raw *collect.RawArtifact, normalized *extract.Normalized) error {
	if raw == nil || normalized == nil {
		// Resumed without in-memory artifacts; go back to the source.
		return fmt.Errorf("item %s has no artifacts to archive; reprocess its source", item.Hash)
	}

	normBytes, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to encode normalized artifact: %w", err)
	}

	attempts, err := retry.Do(ctx, e.policies.Collect, classifyStore, e.journalRecorder(ctx, item.Hash, ledger.StageArchive), func(ctx context.Context) error {
		rawHash, perr := e.store.Put(raw.Body)
		if perr != nil {
			return perr
		}
		normHash, perr := e.store.Put(normBytes)
		if perr != nil {
			return perr
		}
		item.RawArtifact = rawHash
		item.NormalizedArtifact = normHash
		return nil
	})
	item.Attempts[ledger.StageArchive] += attempts
	if err != nil {
		return e.abandon(ctx, item, ledger.StageArchive, ledger.ErrorKindStore, err)
	}

	return e.transition(ctx, item, ledger.StateArchived)
}

// assembleStage calls the assembler and stores the resulting article as a
// new version. The article pointer and the state move in a single item
// update, so observers never see an assembled state without its article.
func (e *Engine) assembleStage(ctx context.Context, item *ledger.ContentItem) error {
	normalized, err := e.loadNormalized(item)
	if err != nil {
		return err
	}

	if item.State != ledger.StateAssembling {
		if err := e.transition(ctx, item, ledger.StateAssembling); err != nil {
			return err
		}
	}

	var draft *assemble.Draft
	attempts, err := retry.Do(ctx, e.policies.Assemble, classifyAssemble, e.journalRecorder(ctx, item.Hash, ledger.StageAssemble), func(ctx context.Context) error {
		var aerr error
		draft, aerr = e.assembler.Assemble(ctx, normalized)
		return aerr
	})
	item.Attempts[ledger.StageAssemble] += attempts
	if err != nil {
		return e.abandon(ctx, item, ledger.StageAssemble, ledger.ErrorKindModel, err)
	}

	draftBytes, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	articleHash, err := e.store.Put(draftBytes)
	if err != nil {
		return e.abandon(ctx, item, ledger.StageAssemble, ledger.ErrorKindStore, err)
	}

	version := item.ArticleVersion + 1
	if err := e.client.AddArticleVersion(ctx, item.Hash, articleHash, version); err != nil {
		return fmt.Errorf("failed to record article version: %w", err)
	}

	item.CurrentArticle = articleHash
	item.ArticleVersion = version
	item.LastError = nil
	if err := e.transition(ctx, item, ledger.StateAssembled); err != nil {
		return err
	}

	e.logEvent("article_assembled", map[string]interface{}{
		"item_hash":    item.Hash,
		"article_hash": articleHash,
		"version":      version,
		"attempts":     attempts,
	})
	return nil
}

// publishStage fans the current article out to the item's platforms and
// settles the item based on the outcome census: every platform succeeded
// is done_full, a mix is done_partial, none is abandoned.
func (e *Engine) publishStage(ctx context.Context, item *ledger.ContentItem) error {
	draft, err := e.loadDraft(item)
	if err != nil {
		return err
	}

	if item.State != ledger.StatePublishing {
		if err := e.transition(ctx, item, ledger.StatePublishing); err != nil {
			return err
		}
	}

	outcomes, err := e.fanout.Fanout(ctx, item, draft)
	if err != nil {
		return fmt.Errorf("publish fan-out failed for %s: %w", item.Hash, err)
	}

	succeeded, terminal, unresolved, totalAttempts := 0, 0, 0, 0
	for _, platform := range item.Platforms {
		outcome, ok := outcomes[platform]
		if !ok {
			unresolved++
			continue
		}
		totalAttempts += outcome.Attempts
		switch outcome.Status {
		case ledger.OutcomeSucceeded:
			succeeded++
		case ledger.OutcomeFailedTerminal:
			terminal++
		default:
			unresolved++
		}
	}

	// Outcome attempt counts are cumulative across runs, so the item
	// counter is recomputed rather than incremented.
	item.Attempts[ledger.StagePublish] = totalAttempts

	if unresolved > 0 {
		// Interrupted mid-fan-out; stay in publishing for a resume pass.
		if err := e.client.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("failed to persist item %s: %w", item.Hash, err)
		}
		return ctx.Err()
	}

	var next ledger.ItemState
	switch {
	case terminal == 0:
		next = ledger.StateDoneFull
	case succeeded > 0:
		next = ledger.StateDonePartial
	default:
		next = ledger.StateAbandoned
		item.LastError = &ledger.StageError{
			Stage:    ledger.StagePublish,
			Kind:     ledger.ErrorKindPlatform,
			Message:  "no platform accepted the publication",
			Terminal: true,
		}
	}

	if err := e.transition(ctx, item, next); err != nil {
		return err
	}

	e.logEvent("publish_settled", map[string]interface{}{
		"item_hash": item.Hash,
		"state":     string(next),
		"succeeded": succeeded,
		"failed":    terminal,
	})
	return nil
}

// Requeue resets a done_partial or abandoned item so it can run again.
// Succeeded platform outcomes are kept; failed ones go back to pending
// with a fresh attempt budget. The item restarts at the latest state its
// stored artifacts support. Requeue only resets state; call ProcessItem to
// actually re-drive the item.
func (e *Engine) Requeue(ctx context.Context, hash string) (*ledger.ContentItem, error) {
	item, err := e.client.GetItem(ctx, hash)
	if err != nil {
		return nil, err
	}

	if !item.State.Requeueable() {
		return nil, fmt.Errorf("item %s in state %s cannot be re-queued", hash, item.State)
	}

	lease, err := e.client.AcquireLease(ctx, item.Hash, e.owner, e.leaseTTL)
	if err != nil {
		if errors.Is(err, ledger.ErrLeaseHeld) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to acquire item lease: %w", err)
	}
	defer e.client.ReleaseLease(context.WithoutCancel(ctx), lease)

	outcomes, err := e.client.ListOutcomes(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for %s: %w", hash, err)
	}
	for platform, outcome := range outcomes {
		if outcome.Status == ledger.OutcomeSucceeded {
			continue
		}
		reset := &ledger.PublishOutcome{
			Platform: platform,
			Status:   ledger.OutcomePending,
		}
		if err := e.client.SetOutcome(ctx, hash, reset); err != nil {
			return nil, fmt.Errorf("failed to reset outcome for %s/%s: %w", hash, platform, err)
		}
	}

	var restart ledger.ItemState
	switch {
	case item.CurrentArticle != "":
		restart = ledger.StateAssembled
		item.Attempts[ledger.StagePublish] = 0
	case item.NormalizedArtifact != "":
		restart = ledger.StateArchived
		item.Attempts[ledger.StageAssemble] = 0
		item.Attempts[ledger.StagePublish] = 0
	default:
		// Audit record with no artifacts; the whole pipeline reruns.
		restart = ledger.StateCollected
		item.Attempts = map[ledger.Stage]int{}
	}

	item.State = restart
	item.LastError = nil
	if err := e.client.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to re-queue item %s: %w", hash, err)
	}

	e.logEvent("item_requeued", map[string]interface{}{
		"item_hash": hash,
		"state":     string(restart),
	})
	return item, nil
}

// abandon records a terminal stage failure on the item and moves it to the
// abandoned state.
func (e *Engine) abandon(ctx context.Context, item *ledger.ContentItem, stage ledger.Stage, kind ledger.ErrorKind, cause error) error {
	item.LastError = &ledger.StageError{
		Stage:    stage,
		Kind:     kind,
		Message:  cause.Error(),
		Terminal: true,
	}
	if err := e.transition(ctx, item, ledger.StateAbandoned); err != nil {
		return err
	}

	e.logEvent("item_abandoned", map[string]interface{}{
		"item_hash": item.Hash,
		"stage":     string(stage),
		"error":     cause.Error(),
	})
	return nil
}

// supersede terminally closes an audit item whose content now lives under
// another hash.
func (e *Engine) supersede(ctx context.Context, item *ledger.ContentItem, settledHash string) {
	item.LastError = &ledger.StageError{
		Stage:    ledger.StageCollect,
		Kind:     ledger.ErrorKindSource,
		Message:  "superseded by item " + settledHash,
		Terminal: true,
	}
	item.State = ledger.StateAbandoned
	if err := e.client.UpdateItem(ctx, item); err != nil {
		e.logEvent("item_supersede_failed", map[string]interface{}{
			"item_hash": item.Hash,
			"error":     err.Error(),
		})
		return
	}
	e.logEvent("item_superseded", map[string]interface{}{
		"item_hash":    item.Hash,
		"settled_hash": settledHash,
	})
}

// recordAbandonedSource writes an audit item for a source that failed
// terminally before a content hash existed. Without the canonical text the
// item is keyed by the raw bytes, or by the source reference when
// collection never produced bytes.
func (e *Engine) recordAbandonedSource(ctx context.Context, sourceRef string, raw *collect.RawArtifact, stage ledger.Stage, kind ledger.ErrorKind, cause error, journal []*ledger.AttemptRecord) (*ledger.ContentItem, error) {
	var hash, rawHash string
	if raw != nil {
		hash = archive.Hash(raw.Body)
		if stored, err := e.store.Put(raw.Body); err == nil {
			rawHash = stored
		}
	} else {
		hash = archive.Hash([]byte(sourceRef))
	}

	item := &ledger.ContentItem{
		Hash:        hash,
		SourceRef:   sourceRef,
		State:       ledger.StateAbandoned,
		RawArtifact: rawHash,
		Platforms:   e.platforms,
		Attempts:    map[ledger.Stage]int{stage: len(journal)},
		LastError: &ledger.StageError{
			Stage:    stage,
			Kind:     kind,
			Message:  cause.Error(),
			Terminal: true,
		},
		CollectedAtMs: time.Now().UnixMilli(),
	}

	if err := e.client.PutItem(ctx, item); err != nil {
		if !errors.Is(err, ledger.ErrItemExists) {
			return nil, fmt.Errorf("failed to record abandoned source: %w", err)
		}
		// A re-queued audit item failed terminally again. Move the existing
		// record back to abandoned instead of leaving it at collected.
		existing, gerr := e.client.GetItem(ctx, hash)
		if gerr != nil {
			return nil, fmt.Errorf("failed to load abandoned source %s: %w", hash, gerr)
		}
		if !existing.State.Terminal() {
			existing.State = ledger.StateAbandoned
			existing.LastError = item.LastError
			if existing.Attempts == nil {
				existing.Attempts = map[ledger.Stage]int{}
			}
			existing.Attempts[stage] += len(journal)
			if uerr := e.client.UpdateItem(ctx, existing); uerr != nil {
				return nil, fmt.Errorf("failed to update abandoned source %s: %w", hash, uerr)
			}
		}
		item = existing
	}
	e.flushJournal(ctx, hash, journal)

	e.logEvent("source_abandoned", map[string]interface{}{
		"source_ref": sourceRef,
		"item_hash":  hash,
		"stage":      string(stage),
		"error":      cause.Error(),
	})
	return item, fmt.Errorf("%s failed terminally for %s: %w", stage, sourceRef, cause)
}

// transition applies a forward state move and persists the whole item.
func (e *Engine) transition(ctx context.Context, item *ledger.ContentItem, next ledger.ItemState) error {
	if !item.State.CanTransition(next) {
		return fmt.Errorf("invalid transition for %s: %s -> %s", item.Hash, item.State, next)
	}
	item.State = next
	if err := e.client.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to persist item %s: %w", item.Hash, err)
	}
	return nil
}

// loadNormalized reads the canonical form back from the archive store.
func (e *Engine) loadNormalized(item *ledger.ContentItem) (*extract.Normalized, error) {
	data, err := e.store.Get(item.NormalizedArtifact)
	if err != nil {
		return nil, fmt.Errorf("failed to load normalized artifact for %s: %w", item.Hash, err)
	}
	var normalized extract.Normalized
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("corrupt normalized artifact for %s: %w", item.Hash, err)
	}
	return &normalized, nil
}

// loadDraft reads the current article version back from the archive store.
func (e *Engine) loadDraft(item *ledger.ContentItem) (*assemble.Draft, error) {
	data, err := e.store.Get(item.CurrentArticle)
	if err != nil {
		return nil, fmt.Errorf("failed to load article for %s: %w", item.Hash, err)
	}
	var draft assemble.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("corrupt article for %s: %w", item.Hash, err)
	}
	return &draft, nil
}

// journalRecorder returns a Recorder that appends each attempt to the
// item's journal as it happens. Journal write failures are logged, never
// allowed to interfere with the attempt itself.
func (e *Engine) journalRecorder(ctx context.Context, itemHash string, stage ledger.Stage) retry.Recorder {
	return func(a retry.Attempt) {
		if err := e.client.AppendAttempt(ctx, itemHash, attemptRecord(stage, "", a)); err != nil {
			log.Printf("[Pipeline] Warning: failed to journal %s attempt for %s: %v", stage, itemHash, err)
		}
	}
}

// flushJournal writes buffered pre-hash attempt records to the item.
func (e *Engine) flushJournal(ctx context.Context, itemHash string, journal []*ledger.AttemptRecord) {
	for _, record := range journal {
		if err := e.client.AppendAttempt(ctx, itemHash, record); err != nil {
			log.Printf("[Pipeline] Warning: failed to journal attempt for %s: %v", itemHash, err)
		}
	}
}

func attemptRecord(stage ledger.Stage, platform string, a retry.Attempt) *ledger.AttemptRecord {
	errMsg := ""
	if a.Err != nil {
		errMsg = a.Err.Error()
	}
	return &ledger.AttemptRecord{
		Stage:    stage,
		Platform: platform,
		Attempt:  a.Number,
		OK:       a.Err == nil,
		Error:    errMsg,
		AtMs:     time.Now().UnixMilli(),
	}
}

// logEvent emits a structured JSON log line for machine consumption.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "pipeline"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
