package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quillpress/quill/pkg/ledger"
)

// StreamEvents subscribes to item state change events and renders them to
// the writer until the context is cancelled or the subscription closes.
// The default format is a human-readable line per event; "jsonl" emits
// one JSON object per line for programmatic consumption.
func StreamEvents(ctx context.Context, client *ledger.Client, format OutputFormat, w io.Writer) error {
	subscription, err := client.SubscribeItemEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to item events: %w", err)
	}
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case item, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if err := renderEvent(w, item, format); err != nil {
				return err
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "subscription error: %v\n", err)
		}
	}
}

func renderEvent(w io.Writer, item *ledger.ContentItem, format OutputFormat) error {
	if format == OutputFormatJSONL {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(data))
		return nil
	}

	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(w, "[%s] %s %s %s\n", ts, shortHash(item.Hash), formatState(item.State), formatTitle(item.Title))
	return nil
}
