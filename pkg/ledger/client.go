package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptJournalCap bounds the per-item attempt journal. Old entries fall
// off the tail; the counters on the item keep the totals.
const attemptJournalCap = 200

// ErrItemExists is returned by PutItem when an item with the same content
// hash already exists. Callers treat this as "load the existing record"
// rather than a failure - identical content maps to one item.
var ErrItemExists = errors.New("ledger: item already exists")

// Client provides instance-scoped Redis operations for the ledger.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new ledger client for the specified instance.
// The client automatically namespaces all keys and channels with the
// instance name. Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutItem creates a new content item, indexes it, and publishes an event.
// Validates the item before writing. Returns ErrItemExists if an item with
// the same content hash is already recorded; the caller should load and
// continue with that record instead.
func (c *Client) PutItem(ctx context.Context, item *ContentItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	key := ItemKey(c.instanceName, item.Hash)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check item existence: %w", err)
	}
	if exists > 0 {
		return ErrItemExists
	}

	hash, err := ItemToHash(item)
	if err != nil {
		return fmt.Errorf("failed to serialize item: %w", err)
	}

	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write item to Redis: %w", err)
	}

	z := redis.Z{Score: float64(item.CollectedAtMs), Member: item.Hash}
	if err := c.rdb.ZAdd(ctx, ItemsIndexKey(c.instanceName), z).Err(); err != nil {
		return fmt.Errorf("failed to index item: %w", err)
	}

	return c.publishItemEvent(ctx, item)
}

// GetItem retrieves a content item by hash.
// Returns (nil, redis.Nil) if the item doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetItem(ctx context.Context, hash string) (*ContentItem, error) {
	key := ItemKey(c.instanceName, hash)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	item, err := HashToItem(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize item: %w", err)
	}

	return item, nil
}

// ItemExists checks if an item exists without fetching it.
func (c *Client) ItemExists(ctx context.Context, hash string) (bool, error) {
	key := ItemKey(c.instanceName, hash)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return exists > 0, nil
}

// UpdateItem replaces an existing item's record (full HSET replacement) and
// publishes an event. Because the whole record lands in a single HSET, a
// state transition and its companion fields (e.g. the current article
// pointer) become visible atomically - no reader ever observes "assembled"
// with an empty current_article.
//
// The caller is expected to hold the item's lease; UpdateItem itself does
// not check.
func (c *Client) UpdateItem(ctx context.Context, item *ContentItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	item.UpdatedAtMs = time.Now().UnixMilli()

	hash, err := ItemToHash(item)
	if err != nil {
		return fmt.Errorf("failed to serialize item: %w", err)
	}

	key := ItemKey(c.instanceName, item.Hash)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update item in Redis: %w", err)
	}

	return c.publishItemEvent(ctx, item)
}

// ListItems returns up to limit items, newest first. limit <= 0 means all.
func (c *Client) ListItems(ctx context.Context, limit int) ([]*ContentItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	hashes, err := c.rdb.ZRevRange(ctx, ItemsIndexKey(c.instanceName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read items index: %w", err)
	}

	items := make([]*ContentItem, 0, len(hashes))
	for _, h := range hashes {
		item, err := c.GetItem(ctx, h)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// SetOutcome records a publish outcome for one (item, platform) pair.
// Outcomes are stored as a hash keyed by platform name, so concurrent
// writes for different platforms never clobber each other.
func (c *Client) SetOutcome(ctx context.Context, itemHash string, outcome *PublishOutcome) error {
	if err := outcome.Validate(); err != nil {
		return fmt.Errorf("invalid outcome: %w", err)
	}

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	key := OutcomesKey(c.instanceName, itemHash)
	if err := c.rdb.HSet(ctx, key, outcome.Platform, string(outcomeJSON)).Err(); err != nil {
		return fmt.Errorf("failed to write outcome to Redis: %w", err)
	}

	return nil
}

// GetOutcome retrieves the outcome for one platform.
// Returns (nil, redis.Nil) if no outcome is recorded.
func (c *Client) GetOutcome(ctx context.Context, itemHash, platform string) (*PublishOutcome, error) {
	key := OutcomesKey(c.instanceName, itemHash)

	outcomeJSON, err := c.rdb.HGet(ctx, key, platform).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read outcome from Redis: %w", err)
	}

	var outcome PublishOutcome
	if err := json.Unmarshal([]byte(outcomeJSON), &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}

	return &outcome, nil
}

// ListOutcomes retrieves all recorded outcomes for an item as a map of
// platform name to outcome. Returns an empty map if none exist.
func (c *Client) ListOutcomes(ctx context.Context, itemHash string) (map[string]*PublishOutcome, error) {
	key := OutcomesKey(c.instanceName, itemHash)

	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read outcomes from Redis: %w", err)
	}

	outcomes := make(map[string]*PublishOutcome, len(raw))
	for platform, outcomeJSON := range raw {
		var outcome PublishOutcome
		if err := json.Unmarshal([]byte(outcomeJSON), &outcome); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome for %s: %w", platform, err)
		}
		outcomes[platform] = &outcome
	}

	return outcomes, nil
}

// AddArticleVersion records an assembled article version for an item.
// Uses ZADD with score=version to maintain sorted order; re-adding the same
// version is a no-op overwrite of the same member.
func (c *Client) AddArticleVersion(ctx context.Context, itemHash string, articleHash string, version int) error {
	key := ArticlesKey(c.instanceName, itemHash)

	z := redis.Z{Score: float64(version), Member: articleHash}
	if err := c.rdb.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("failed to add article version: %w", err)
	}

	return nil
}

// LatestArticleVersion retrieves the archive hash of the highest article
// version for an item. Returns ("", 0, redis.Nil) if none exist.
func (c *Client) LatestArticleVersion(ctx context.Context, itemHash string) (articleHash string, version int, err error) {
	key := ArticlesKey(c.instanceName, itemHash)

	results, err := c.rdb.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return "", 0, fmt.Errorf("failed to get latest article version: %w", err)
	}

	if len(results) == 0 {
		return "", 0, redis.Nil
	}

	articleHash = results[0].Member.(string)
	version = int(results[0].Score)

	return articleHash, version, nil
}

// AppendAttempt records one stage attempt in the item's attempt journal.
// The journal is capped; counters on the item itself keep the totals.
func (c *Client) AppendAttempt(ctx context.Context, itemHash string, record *AttemptRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	key := AttemptsKey(c.instanceName, itemHash)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, string(recordJSON))
	pipe.LTrim(ctx, key, 0, attemptJournalCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append attempt record: %w", err)
	}

	return nil
}

// RecentAttempts returns up to limit attempt records, newest first.
func (c *Client) RecentAttempts(ctx context.Context, itemHash string, limit int) ([]*AttemptRecord, error) {
	if limit <= 0 || limit > attemptJournalCap {
		limit = attemptJournalCap
	}

	key := AttemptsKey(c.instanceName, itemHash)
	raw, err := c.rdb.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt journal: %w", err)
	}

	records := make([]*AttemptRecord, 0, len(raw))
	for _, entry := range raw {
		var record AttemptRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt record: %w", err)
		}
		records = append(records, &record)
	}

	return records, nil
}

// publishItemEvent publishes the full item JSON to the item events channel.
func (c *Client) publishItemEvent(ctx context.Context, item *ContentItem) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item for event: %w", err)
	}

	channel := ItemEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, itemJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish item event: %w", err)
	}

	return nil
}

// Subscription represents an active Pub/Sub subscription to item events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ContentItem
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of item events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ContentItem {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeItemEvents subscribes to item state events for this instance.
// Returns a Subscription that delivers full item objects.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery).
func (c *Client) SubscribeItemEvents(ctx context.Context) (*Subscription, error) {
	channel := ItemEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *ContentItem, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var item ContentItem
				if err := json.Unmarshal([]byte(msg.Payload), &item); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal item event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &item:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if GetItem, GetOutcome, or
// LatestArticleVersion returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
