package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Quill instances to safely coexist on a single Redis server.
//
// Key pattern: quill:{instance_name}:{entity}:{content_hash}
// Channel pattern: quill:{instance_name}:{event_type}_events

// ItemKey returns the Redis key for a content item.
// Pattern: quill:{instance_name}:item:{hash}
func ItemKey(instanceName, hash string) string {
	return fmt.Sprintf("quill:%s:item:%s", instanceName, hash)
}

// ItemsIndexKey returns the Redis key for the ZSET indexing all items by
// collection time.
// Pattern: quill:{instance_name}:items
func ItemsIndexKey(instanceName string) string {
	return fmt.Sprintf("quill:%s:items", instanceName)
}

// OutcomesKey returns the Redis key for an item's publish outcomes hash.
// Fields are platform names, values are JSON-encoded PublishOutcome records.
// Pattern: quill:{instance_name}:item:{hash}:outcomes
func OutcomesKey(instanceName, hash string) string {
	return fmt.Sprintf("quill:%s:item:%s:outcomes", instanceName, hash)
}

// ArticlesKey returns the Redis key for an item's article version ZSET,
// scored by version number.
// Pattern: quill:{instance_name}:item:{hash}:articles
func ArticlesKey(instanceName, hash string) string {
	return fmt.Sprintf("quill:%s:item:%s:articles", instanceName, hash)
}

// AttemptsKey returns the Redis key for an item's attempt journal list.
// Pattern: quill:{instance_name}:item:{hash}:attempts
func AttemptsKey(instanceName, hash string) string {
	return fmt.Sprintf("quill:%s:item:%s:attempts", instanceName, hash)
}

// LeaseKey returns the Redis key for an item's processing lease.
// Pattern: quill:{instance_name}:lease:{hash}
func LeaseKey(instanceName, hash string) string {
	return fmt.Sprintf("quill:%s:lease:%s", instanceName, hash)
}

// ItemEventsChannel returns the Pub/Sub channel name for item state events.
// Pattern: quill:{instance_name}:item_events
func ItemEventsChannel(instanceName string) string {
	return fmt.Sprintf("quill:%s:item_events", instanceName)
}
