// Package inspect renders ledger state for the CLI: item tables, JSONL
// streams, and single-item detail views.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/quillpress/quill/pkg/ledger"
)

var stateColors = map[ledger.ItemState]*color.Color{
	ledger.StateDoneFull:    color.New(color.FgGreen),
	ledger.StateDonePartial: color.New(color.FgYellow),
	ledger.StateAbandoned:   color.New(color.FgRed),
}

// formatState renders the state column, coloring terminal states so a scan
// of the table surfaces what needs operator attention.
func formatState(state ledger.ItemState) string {
	if c, ok := stateColors[state]; ok {
		return c.Sprintf("%-12s", string(state))
	}
	return fmt.Sprintf("%-12s", string(state))
}

// FormatTable writes items as a formatted table to the provided writer.
// Returns the number of items formatted.
func FormatTable(w io.Writer, items []*ledger.ContentItem, instanceName string) int {
	if len(items) == 0 {
		fmt.Fprintf(w, "No items found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Items for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-12s %-12s %-4s %-8s %s\n",
		"HASH", "STATE", "VER", "AGE", "TITLE")
	fmt.Fprintf(w, "%-12s %-12s %-4s %-8s %s\n",
		"------------", "------------", "----", "--------", "----------------------------------------")

	for _, item := range items {
		fmt.Fprintf(w, "%-12s %s %-4s %-8s %s\n",
			shortHash(item.Hash),
			formatState(item.State),
			formatVersion(item.ArticleVersion),
			formatAge(item.CollectedAtMs),
			formatTitle(item.Title),
		)
	}

	countMsg := "item"
	if len(items) != 1 {
		countMsg = "items"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(items), countMsg)

	return len(items)
}

// FormatJSONL writes items as line-delimited JSON to the provided writer.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL(w io.Writer, items []*ledger.ContentItem) error {
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// ItemDetail is the full picture of one item: its record, its per-platform
// outcomes, and the tail of its attempt journal.
type ItemDetail struct {
	Item     *ledger.ContentItem              `json:"item"`
	Outcomes map[string]*ledger.PublishOutcome `json:"outcomes,omitempty"`
	Attempts []*ledger.AttemptRecord          `json:"recent_attempts,omitempty"`
}

// FormatDetail writes an item detail as pretty-printed JSON.
func FormatDetail(w io.Writer, detail *ItemDetail) error {
	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal item detail to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// shortHash truncates a content hash to 12 characters for table display.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// formatTitle truncates long titles for table display. Empty titles return "-".
func formatTitle(title string) string {
	if title == "" {
		return "-"
	}
	if len(title) > 60 {
		return title[:57] + "..."
	}
	return title
}

// formatVersion shows the article version, or "-" when none exists yet.
func formatVersion(version int) string {
	if version == 0 {
		return "-"
	}
	return fmt.Sprintf("v%d", version)
}

// formatAge formats a Unix millisecond timestamp as relative time.
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	t := time.Unix(timestampMs/1000, (timestampMs%1000)*1000000)
	diff := time.Since(t)

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
