package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Per-item processing leases
//
// A lease enforces at-most-one-in-flight processing per content hash.
// A second trigger for the same item while one is active gets ErrLeaseHeld
// and coalesces (no-op) rather than queueing a duplicate run. Leases carry
// a TTL so a crashed runner cannot wedge an item forever.

// ErrLeaseHeld is returned by AcquireLease when another runner already
// holds the lease for this item.
var ErrLeaseHeld = errors.New("ledger: lease held by another runner")

// releaseScript deletes the lease only if the caller still owns it.
// Compare-and-delete must be atomic or a slow runner could release a lease
// that has expired and been re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is a held per-item mutual-exclusion token.
type Lease struct {
	itemHash string
	owner    string
}

// AcquireLease attempts to take the processing lease for an item.
// owner should be unique per runner (a UUID). Returns ErrLeaseHeld if the
// lease is already taken.
func (c *Client) AcquireLease(ctx context.Context, itemHash, owner string, ttl time.Duration) (*Lease, error) {
	if owner == "" {
		return nil, fmt.Errorf("lease owner cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}

	key := LeaseKey(c.instanceName, itemHash)
	ok, err := c.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	return &Lease{itemHash: itemHash, owner: owner}, nil
}

// RefreshLease extends a held lease's TTL. Returns an error if the lease
// is no longer owned by this runner.
func (c *Client) RefreshLease(ctx context.Context, lease *Lease, ttl time.Duration) error {
	key := LeaseKey(c.instanceName, lease.itemHash)

	current, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("lease expired for item %s", lease.itemHash)
		}
		return fmt.Errorf("failed to read lease: %w", err)
	}
	if current != lease.owner {
		return fmt.Errorf("lease for item %s taken over by another runner", lease.itemHash)
	}

	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh lease: %w", err)
	}

	return nil
}

// ReleaseLease releases a held lease. Releasing a lease that has already
// expired (and possibly been re-acquired) is a safe no-op.
func (c *Client) ReleaseLease(ctx context.Context, lease *Lease) error {
	key := LeaseKey(c.instanceName, lease.itemHash)

	if err := releaseScript.Run(ctx, c.rdb, []string{key}, lease.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}
