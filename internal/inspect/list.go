package inspect

import (
	"context"
	"fmt"
	"io"

	"github.com/quillpress/quill/pkg/ledger"
)

// OutputFormat selects how list results are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSONL   OutputFormat = "jsonl"
)

// FilterCriteria narrows a listing. Zero values mean no filtering.
type FilterCriteria struct {
	State ledger.ItemState // filter by exact state
	Limit int              // max items, 0 = all
}

// ListItems fetches items newest-first, applies filters, and renders them
// in the requested format.
func ListItems(ctx context.Context, client *ledger.Client, instanceName string, format OutputFormat, criteria *FilterCriteria, w io.Writer) error {
	items, err := client.ListItems(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	if criteria != nil {
		filtered := items[:0]
		for _, item := range items {
			if criteria.State != "" && item.State != criteria.State {
				continue
			}
			filtered = append(filtered, item)
			if criteria.Limit > 0 && len(filtered) >= criteria.Limit {
				break
			}
		}
		items = filtered
	}

	switch format {
	case OutputFormatJSONL:
		return FormatJSONL(w, items)
	default:
		FormatTable(w, items, instanceName)
		return nil
	}
}
