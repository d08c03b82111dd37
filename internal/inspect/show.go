package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quillpress/quill/pkg/ledger"
)

const recentAttemptLimit = 20

// ErrAmbiguousHash means a short hash prefix matched more than one item.
var ErrAmbiguousHash = errors.New("inspect: short hash matches multiple items")

// ResolveItemHash expands a short hash prefix to a full content hash.
// Full-length hashes pass through untouched.
func ResolveItemHash(ctx context.Context, client *ledger.Client, prefix string) (string, error) {
	if len(prefix) == 64 {
		return prefix, nil
	}

	items, err := client.ListItems(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list items: %w", err)
	}

	var matches []string
	for _, item := range items {
		if strings.HasPrefix(item.Hash, prefix) {
			matches = append(matches, item.Hash)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no item with hash prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d items", ErrAmbiguousHash, prefix, len(matches))
	}
}

// ShowItem fetches one item with its outcomes and recent attempts and
// writes the detail view as pretty-printed JSON.
func ShowItem(ctx context.Context, client *ledger.Client, hash string, w io.Writer) error {
	item, err := client.GetItem(ctx, hash)
	if err != nil {
		return err
	}

	outcomes, err := client.ListOutcomes(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to load outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		outcomes = nil
	}

	attempts, err := client.RecentAttempts(ctx, hash, recentAttemptLimit)
	if err != nil {
		return fmt.Errorf("failed to load attempt journal: %w", err)
	}

	return FormatDetail(w, &ItemDetail{
		Item:     item,
		Outcomes: outcomes,
		Attempts: attempts,
	})
}
