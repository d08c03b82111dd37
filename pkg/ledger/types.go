package ledger

import (
	"fmt"
)

// Stage identifies one step of the content pipeline. Retry policies,
// attempt counters and error classification are all keyed by stage.
type Stage string

const (
	// StageCollect covers fetching raw content from the source reference.
	StageCollect Stage = "collect"

	// StageExtract covers normalizing raw content into canonical form.
	StageExtract Stage = "extract"

	// StageArchive covers writing artifacts to the archive store.
	StageArchive Stage = "archive"

	// StageAssemble covers AI-assisted article assembly.
	StageAssemble Stage = "assemble"

	// StagePublish covers per-platform publication.
	StagePublish Stage = "publish"
)

// Stages lists all pipeline stages in execution order.
var Stages = []Stage{StageCollect, StageExtract, StageArchive, StageAssemble, StagePublish}

// Validate checks if the Stage is a valid enum value.
func (s Stage) Validate() error {
	switch s {
	case StageCollect, StageExtract, StageArchive, StageAssemble, StagePublish:
		return nil
	default:
		return fmt.Errorf("unknown stage: %q", s)
	}
}

// ItemState is the lifecycle state of a ContentItem. States advance
// monotonically; the only sanctioned backward move is an operator re-queue
// from a terminal state, which goes through Client-level helpers rather
// than a plain update.
type ItemState string

const (
	// StateCollected means raw content has been fetched from the source.
	StateCollected ItemState = "collected"

	// StateExtracted means the canonical normalized form exists.
	StateExtracted ItemState = "extracted"

	// StateArchived means raw and normalized artifacts are in the archive store.
	StateArchived ItemState = "archived"

	// StateAssembling means an assembler call is in flight.
	StateAssembling ItemState = "assembling"

	// StateAssembled means a current article version exists.
	StateAssembled ItemState = "assembled"

	// StatePublishing means platform fan-out is in progress.
	StatePublishing ItemState = "publishing"

	// StateDoneFull means every configured platform succeeded.
	StateDoneFull ItemState = "done_full"

	// StateDonePartial means at least one platform succeeded and at least
	// one reached terminal failure.
	StateDonePartial ItemState = "done_partial"

	// StateAbandoned means the item cannot progress: a pre-publish stage
	// failed terminally, or no platform ever succeeded.
	StateAbandoned ItemState = "abandoned"
)

// stateRank orders states for monotonic transition checks. Terminal states
// share the highest rank; transitions between them are not permitted.
var stateRank = map[ItemState]int{
	StateCollected:   1,
	StateExtracted:   2,
	StateArchived:    3,
	StateAssembling:  4,
	StateAssembled:   5,
	StatePublishing:  6,
	StateDoneFull:    7,
	StateDonePartial: 7,
	StateAbandoned:   7,
}

// Validate checks if the ItemState is a valid enum value.
func (s ItemState) Validate() error {
	if _, ok := stateRank[s]; !ok {
		return fmt.Errorf("unknown item state: %q", s)
	}
	return nil
}

// Terminal reports whether the state is an end state of the lifecycle.
func (s ItemState) Terminal() bool {
	return s == StateDoneFull || s == StateDonePartial || s == StateAbandoned
}

// Requeueable reports whether an operator may re-queue an item in this state.
func (s ItemState) Requeueable() bool {
	return s == StateDonePartial || s == StateAbandoned
}

// CanTransition reports whether moving from s to next is a forward move.
// Abandoned is reachable from any non-terminal state.
func (s ItemState) CanTransition(next ItemState) bool {
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == StateAbandoned {
		return true
	}
	return to > from
}

// ErrorKind classifies a stage error by the subsystem that raised it.
type ErrorKind string

const (
	ErrorKindSource   ErrorKind = "source"
	ErrorKindFormat   ErrorKind = "format"
	ErrorKindModel    ErrorKind = "model"
	ErrorKindPlatform ErrorKind = "platform"
	ErrorKindStore    ErrorKind = "store"
)

// StageError is the recorded last-error for a stage, kept on the item for
// operator inspection.
type StageError struct {
	Stage    Stage     `json:"stage"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Terminal bool      `json:"terminal"`
}

// ContentItem is the unit of work tracked end-to-end through the pipeline.
// Its Hash is the stable content identity: once assigned it never changes,
// and all idempotency checks key off it. Items are never deleted, only
// marked terminal.
type ContentItem struct {
	Hash               string         `json:"hash"`                // hex blake3 content hash - identity, immutable
	SourceRef          string         `json:"source_ref"`          // URL or other source reference
	Title              string         `json:"title"`               // extracted title, best-effort
	State              ItemState      `json:"state"`               // current lifecycle state
	RawArtifact        string         `json:"raw_artifact"`        // archive hash of raw bytes
	NormalizedArtifact string         `json:"normalized_artifact"` // archive hash of canonical form
	CurrentArticle     string         `json:"current_article"`     // archive hash of current article version, empty until assembled
	ArticleVersion     int            `json:"article_version"`     // version number of CurrentArticle (0 = none)
	Platforms          []string       `json:"platforms"`           // configured target platform names
	Attempts           map[Stage]int  `json:"attempts"`            // per-stage attempt counters
	LastError          *StageError    `json:"last_error,omitempty"`
	CollectedAtMs      int64          `json:"collected_at_ms"`
	UpdatedAtMs        int64          `json:"updated_at_ms"`
}

// Validate checks if the ContentItem has valid field values.
func (i *ContentItem) Validate() error {
	if !isValidHash(i.Hash) {
		return fmt.Errorf("invalid item hash: %q", i.Hash)
	}

	if i.SourceRef == "" {
		return fmt.Errorf("source_ref cannot be empty")
	}

	if err := i.State.Validate(); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	if i.State == StateAssembled && i.CurrentArticle == "" {
		return fmt.Errorf("assembled item must reference a current article")
	}

	for stage := range i.Attempts {
		if err := stage.Validate(); err != nil {
			return fmt.Errorf("invalid attempt counter: %w", err)
		}
	}

	return nil
}

// OutcomeStatus is the lifecycle state of one (item, platform) publish outcome.
type OutcomeStatus string

const (
	// OutcomePending means no attempt has resolved yet.
	OutcomePending OutcomeStatus = "pending"

	// OutcomeSucceeded means the platform accepted the publication.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeFailedRetryable means the last attempt failed but retrying may help.
	OutcomeFailedRetryable OutcomeStatus = "failed_retryable"

	// OutcomeFailedTerminal means the attempt budget is exhausted or the
	// failure is permanent; only an operator re-queue can revive it.
	OutcomeFailedTerminal OutcomeStatus = "failed_terminal"
)

// Validate checks if the OutcomeStatus is a valid enum value.
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomePending, OutcomeSucceeded, OutcomeFailedRetryable, OutcomeFailedTerminal:
		return nil
	default:
		return fmt.Errorf("unknown outcome status: %q", s)
	}
}

// PublishOutcome records the result of publishing one item to one platform.
type PublishOutcome struct {
	Platform      string        `json:"platform"`
	Status        OutcomeStatus `json:"status"`
	ExternalRef   string        `json:"external_ref,omitempty"` // platform-assigned id on success
	Attempts      int           `json:"attempts"`
	LastAttemptMs int64         `json:"last_attempt_ms"`
	LastError     string        `json:"last_error,omitempty"`
}

// Validate checks if the PublishOutcome has valid field values.
func (o *PublishOutcome) Validate() error {
	if o.Platform == "" {
		return fmt.Errorf("platform cannot be empty")
	}
	if err := o.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if o.Status == OutcomeSucceeded && o.ExternalRef == "" {
		return fmt.Errorf("succeeded outcome must carry an external ref")
	}
	return nil
}

// AttemptRecord is one entry of the per-item attempt journal. Every stage
// attempt, success or failure, is recorded for observability.
type AttemptRecord struct {
	Stage    Stage  `json:"stage"`
	Platform string `json:"platform,omitempty"` // set for publish attempts
	Attempt  int    `json:"attempt"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	AtMs     int64  `json:"at_ms"`
}

// isValidHash checks if a string looks like a hex-encoded blake3 hash.
func isValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
