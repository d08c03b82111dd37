package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStateValidate(t *testing.T) {
	valid := []ItemState{
		StateCollected, StateExtracted, StateArchived, StateAssembling,
		StateAssembled, StatePublishing, StateDoneFull, StateDonePartial,
		StateAbandoned,
	}
	for _, state := range valid {
		assert.NoError(t, state.Validate(), "state %s should be valid", state)
	}

	assert.Error(t, ItemState("published").Validate())
	assert.Error(t, ItemState("").Validate())
}

func TestItemStateTerminal(t *testing.T) {
	assert.True(t, StateDoneFull.Terminal())
	assert.True(t, StateDonePartial.Terminal())
	assert.True(t, StateAbandoned.Terminal())

	assert.False(t, StateCollected.Terminal())
	assert.False(t, StatePublishing.Terminal())
}

func TestItemStateRequeueable(t *testing.T) {
	assert.True(t, StateDonePartial.Requeueable())
	assert.True(t, StateAbandoned.Requeueable())

	// done_full has nothing left to retry
	assert.False(t, StateDoneFull.Requeueable())
	assert.False(t, StateArchived.Requeueable())
}

func TestCanTransition(t *testing.T) {
	t.Run("forward moves are allowed", func(t *testing.T) {
		assert.True(t, StateCollected.CanTransition(StateExtracted))
		assert.True(t, StateExtracted.CanTransition(StateArchived))
		assert.True(t, StateArchived.CanTransition(StateAssembling))
		assert.True(t, StateAssembling.CanTransition(StateAssembled))
		assert.True(t, StateAssembled.CanTransition(StatePublishing))
		assert.True(t, StatePublishing.CanTransition(StateDoneFull))
		assert.True(t, StatePublishing.CanTransition(StateDonePartial))
	})

	t.Run("skipping states is still forward", func(t *testing.T) {
		assert.True(t, StateExtracted.CanTransition(StateAssembling))
	})

	t.Run("backward moves are rejected", func(t *testing.T) {
		assert.False(t, StateArchived.CanTransition(StateCollected))
		assert.False(t, StateAssembled.CanTransition(StateArchived))
		assert.False(t, StatePublishing.CanTransition(StatePublishing))
	})

	t.Run("abandoned is reachable from any non-terminal state", func(t *testing.T) {
		assert.True(t, StateCollected.CanTransition(StateAbandoned))
		assert.True(t, StateAssembling.CanTransition(StateAbandoned))
		assert.True(t, StatePublishing.CanTransition(StateAbandoned))
	})

	t.Run("terminal states never transition", func(t *testing.T) {
		assert.False(t, StateDoneFull.CanTransition(StateAbandoned))
		assert.False(t, StateDonePartial.CanTransition(StateDoneFull))
		assert.False(t, StateAbandoned.CanTransition(StateCollected))
	})
}

func TestContentItemValidate(t *testing.T) {
	t.Run("accepts valid item", func(t *testing.T) {
		item := testItem(0x01)
		assert.NoError(t, item.Validate())
	})

	t.Run("rejects malformed hash", func(t *testing.T) {
		item := testItem(0x01)
		item.Hash = "abc"
		assert.Error(t, item.Validate())

		item.Hash = testHash(0x01)[:63] + "Z"
		assert.Error(t, item.Validate())
	})

	t.Run("rejects empty source ref", func(t *testing.T) {
		item := testItem(0x01)
		item.SourceRef = ""
		assert.Error(t, item.Validate())
	})

	t.Run("rejects assembled without article pointer", func(t *testing.T) {
		item := testItem(0x01)
		item.State = StateAssembled
		assert.Error(t, item.Validate())

		item.CurrentArticle = testHash(0xB0)
		assert.NoError(t, item.Validate())
	})

	t.Run("rejects unknown attempt stage", func(t *testing.T) {
		item := testItem(0x01)
		item.Attempts[Stage("upload")] = 1
		assert.Error(t, item.Validate())
	})
}

func TestOutcomeStatusValidate(t *testing.T) {
	for _, status := range []OutcomeStatus{OutcomePending, OutcomeSucceeded, OutcomeFailedRetryable, OutcomeFailedTerminal} {
		assert.NoError(t, status.Validate())
	}
	assert.Error(t, OutcomeStatus("done").Validate())
}

func TestPublishOutcomeValidate(t *testing.T) {
	t.Run("requires platform", func(t *testing.T) {
		outcome := &PublishOutcome{Status: OutcomePending}
		assert.Error(t, outcome.Validate())
	})

	t.Run("succeeded requires external ref", func(t *testing.T) {
		outcome := &PublishOutcome{Platform: "tg-main", Status: OutcomeSucceeded}
		assert.Error(t, outcome.Validate())

		outcome.ExternalRef = "12345/678"
		assert.NoError(t, outcome.Validate())
	})

	t.Run("failure carries no ref requirement", func(t *testing.T) {
		outcome := &PublishOutcome{Platform: "tg-main", Status: OutcomeFailedTerminal, LastError: "auth failed"}
		assert.NoError(t, outcome.Validate())
	})
}
