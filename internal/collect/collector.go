// Package collect implements the source collector: it fetches raw content
// from a source reference over HTTP and hands the bytes to the extractor.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a response body the collector will read.
// Pages larger than this are truncated rather than failing the fetch.
const maxBodyBytes = 8 << 20 // 8 MiB

// userAgent identifies the collector to origin servers.
const userAgent = "quill-collector/1.0"

var (
	// ErrSourceUnavailable marks a transient collection failure: transport
	// errors, timeouts, rate limiting, server errors. Retryable.
	ErrSourceUnavailable = errors.New("collect: source unavailable")

	// ErrContentGone marks a source that no longer exists (404/410).
	// Terminal: retrying will not bring the content back.
	ErrContentGone = errors.New("collect: content gone")
)

// RawArtifact is the unprocessed result of one collection.
type RawArtifact struct {
	SourceRef   string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Collector fetches raw content from HTTP source references.
type Collector struct {
	client *http.Client
}

// NewCollector builds a collector with the given per-request timeout.
func NewCollector(timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Collector{
		client: &http.Client{Timeout: timeout},
	}
}

// Collect fetches the source reference and returns the raw artifact.
// Failures are classified through the package sentinels: ErrContentGone is
// terminal, ErrSourceUnavailable is retryable.
func (c *Collector) Collect(ctx context.Context, sourceRef string) (*RawArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid source ref %q: %v", ErrContentGone, sourceRef, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to read
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned %s", ErrContentGone, sourceRef, resp.Status)
	default:
		return nil, fmt.Errorf("%w: %s returned %s", ErrSourceUnavailable, sourceRef, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrSourceUnavailable, err)
	}

	return &RawArtifact{
		SourceRef:   sourceRef,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
