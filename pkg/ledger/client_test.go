package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// testHash builds a syntactically valid content hash from a seed byte.
func testHash(seed byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", seed), 32)
}

// testItem builds a minimal valid item for tests.
func testItem(seed byte) *ContentItem {
	return &ContentItem{
		Hash:          testHash(seed),
		SourceRef:     "https://example.com/post",
		Title:         "Test Article",
		State:         StateExtracted,
		Platforms:     []string{"tg-main", "blog-hook"},
		Attempts:      map[Stage]int{StageCollect: 1, StageExtract: 1},
		CollectedAtMs: time.Now().UnixMilli(),
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	err := client.Ping(ctx)
	assert.NoError(t, err)
}

func TestPutItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("creates valid item", func(t *testing.T) {
		item := testItem(0x01)

		err := client.PutItem(ctx, item)
		assert.NoError(t, err)

		retrieved, err := client.GetItem(ctx, item.Hash)
		require.NoError(t, err)
		assert.Equal(t, item.Hash, retrieved.Hash)
		assert.Equal(t, item.SourceRef, retrieved.SourceRef)
		assert.Equal(t, item.Title, retrieved.Title)
		assert.Equal(t, StateExtracted, retrieved.State)
		assert.Equal(t, []string{"tg-main", "blog-hook"}, retrieved.Platforms)
		assert.Equal(t, 1, retrieved.Attempts[StageCollect])
	})

	t.Run("rejects duplicate content hash", func(t *testing.T) {
		item := testItem(0x02)
		require.NoError(t, client.PutItem(ctx, item))

		dup := testItem(0x02)
		dup.SourceRef = "https://mirror.example.com/post"
		err := client.PutItem(ctx, dup)
		assert.ErrorIs(t, err, ErrItemExists)

		// The original record wins
		retrieved, err := client.GetItem(ctx, item.Hash)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/post", retrieved.SourceRef)
	})

	t.Run("rejects invalid item", func(t *testing.T) {
		item := testItem(0x03)
		item.Hash = "not-a-hash"

		err := client.PutItem(ctx, item)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid item")
	})

	t.Run("publishes event after creation", func(t *testing.T) {
		sub, err := client.SubscribeItemEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		item := testItem(0x04)
		require.NoError(t, client.PutItem(ctx, item))

		select {
		case event := <-sub.Events():
			assert.Equal(t, item.Hash, event.Hash)
			assert.Equal(t, StateExtracted, event.State)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for item event")
		}
	})
}

func TestGetItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns not found for missing item", func(t *testing.T) {
		_, err := client.GetItem(ctx, testHash(0xFF))
		assert.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestItemExists(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	exists, err := client.ItemExists(ctx, testHash(0x05))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.PutItem(ctx, testItem(0x05)))

	exists, err = client.ItemExists(ctx, testHash(0x05))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateItem(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("replaces record and stamps update time", func(t *testing.T) {
		item := testItem(0x06)
		require.NoError(t, client.PutItem(ctx, item))

		item.State = StateArchived
		item.RawArtifact = testHash(0xA0)
		item.NormalizedArtifact = testHash(0xA1)
		require.NoError(t, client.UpdateItem(ctx, item))

		retrieved, err := client.GetItem(ctx, item.Hash)
		require.NoError(t, err)
		assert.Equal(t, StateArchived, retrieved.State)
		assert.Equal(t, testHash(0xA0), retrieved.RawArtifact)
		assert.NotZero(t, retrieved.UpdatedAtMs)
	})

	t.Run("state and article pointer land together", func(t *testing.T) {
		item := testItem(0x07)
		require.NoError(t, client.PutItem(ctx, item))

		item.State = StateAssembled
		item.CurrentArticle = testHash(0xB0)
		item.ArticleVersion = 1
		require.NoError(t, client.UpdateItem(ctx, item))

		retrieved, err := client.GetItem(ctx, item.Hash)
		require.NoError(t, err)
		assert.Equal(t, StateAssembled, retrieved.State)
		assert.Equal(t, testHash(0xB0), retrieved.CurrentArticle)
		assert.Equal(t, 1, retrieved.ArticleVersion)
	})

	t.Run("rejects assembled item without article", func(t *testing.T) {
		item := testItem(0x08)
		require.NoError(t, client.PutItem(ctx, item))

		item.State = StateAssembled
		err := client.UpdateItem(ctx, item)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "current article")
	})
}

func TestListItems(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	older := testItem(0x10)
	older.CollectedAtMs = 1000
	newer := testItem(0x11)
	newer.CollectedAtMs = 2000
	require.NoError(t, client.PutItem(ctx, older))
	require.NoError(t, client.PutItem(ctx, newer))

	t.Run("returns items newest first", func(t *testing.T) {
		items, err := client.ListItems(ctx, 0)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, newer.Hash, items[0].Hash)
		assert.Equal(t, older.Hash, items[1].Hash)
	})

	t.Run("respects limit", func(t *testing.T) {
		items, err := client.ListItems(ctx, 1)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, newer.Hash, items[0].Hash)
	})
}

func TestOutcomes(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	itemHash := testHash(0x20)

	t.Run("set and get round-trip", func(t *testing.T) {
		outcome := &PublishOutcome{
			Platform:      "tg-main",
			Status:        OutcomeSucceeded,
			ExternalRef:   "12345/678",
			Attempts:      2,
			LastAttemptMs: time.Now().UnixMilli(),
		}
		require.NoError(t, client.SetOutcome(ctx, itemHash, outcome))

		retrieved, err := client.GetOutcome(ctx, itemHash, "tg-main")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, retrieved.Status)
		assert.Equal(t, "12345/678", retrieved.ExternalRef)
		assert.Equal(t, 2, retrieved.Attempts)
	})

	t.Run("platforms do not clobber each other", func(t *testing.T) {
		failed := &PublishOutcome{
			Platform:      "blog-hook",
			Status:        OutcomeFailedTerminal,
			Attempts:      3,
			LastAttemptMs: time.Now().UnixMilli(),
			LastError:     "platform unavailable",
		}
		require.NoError(t, client.SetOutcome(ctx, itemHash, failed))

		outcomes, err := client.ListOutcomes(ctx, itemHash)
		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, OutcomeSucceeded, outcomes["tg-main"].Status)
		assert.Equal(t, OutcomeFailedTerminal, outcomes["blog-hook"].Status)
	})

	t.Run("rejects succeeded outcome without external ref", func(t *testing.T) {
		err := client.SetOutcome(ctx, itemHash, &PublishOutcome{
			Platform: "tg-main",
			Status:   OutcomeSucceeded,
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "external ref")
	})

	t.Run("get returns not found for missing platform", func(t *testing.T) {
		_, err := client.GetOutcome(ctx, itemHash, "nonexistent")
		assert.True(t, IsNotFound(err))
	})
}

func TestArticleVersions(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	itemHash := testHash(0x30)

	t.Run("latest returns not found when empty", func(t *testing.T) {
		_, _, err := client.LatestArticleVersion(ctx, itemHash)
		assert.True(t, IsNotFound(err))
	})

	t.Run("latest tracks the highest version", func(t *testing.T) {
		require.NoError(t, client.AddArticleVersion(ctx, itemHash, testHash(0xC1), 1))
		require.NoError(t, client.AddArticleVersion(ctx, itemHash, testHash(0xC2), 2))

		articleHash, version, err := client.LatestArticleVersion(ctx, itemHash)
		require.NoError(t, err)
		assert.Equal(t, testHash(0xC2), articleHash)
		assert.Equal(t, 2, version)
	})
}

func TestAttemptJournal(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	itemHash := testHash(0x40)

	for i := 1; i <= 3; i++ {
		record := &AttemptRecord{
			Stage:   StageCollect,
			Attempt: i,
			OK:      i == 3,
			AtMs:    time.Now().UnixMilli(),
		}
		if i < 3 {
			record.Error = "source unavailable"
		}
		require.NoError(t, client.AppendAttempt(ctx, itemHash, record))
	}

	t.Run("returns newest first", func(t *testing.T) {
		records, err := client.RecentAttempts(ctx, itemHash, 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, 3, records[0].Attempt)
		assert.True(t, records[0].OK)
		assert.Equal(t, 1, records[2].Attempt)
		assert.Equal(t, "source unavailable", records[2].Error)
	})

	t.Run("respects limit", func(t *testing.T) {
		records, err := client.RecentAttempts(ctx, itemHash, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, 3, records[0].Attempt)
	})
}

func TestSubscribeItemEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("delivers state transitions", func(t *testing.T) {
		sub, err := client.SubscribeItemEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		item := testItem(0x50)
		require.NoError(t, client.PutItem(ctx, item))

		item.State = StateArchived
		item.RawArtifact = testHash(0xD0)
		item.NormalizedArtifact = testHash(0xD1)
		require.NoError(t, client.UpdateItem(ctx, item))

		states := []ItemState{}
		for i := 0; i < 2; i++ {
			select {
			case event := <-sub.Events():
				states = append(states, event.State)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for item events")
			}
		}
		assert.Equal(t, []ItemState{StateExtracted, StateArchived}, states)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sub, err := client.SubscribeItemEvents(ctx)
		require.NoError(t, err)

		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})
}
