// Package publish holds the platform adapters and the fan-out coordinator.
//
// Each target platform gets one Adapter implementation selected from a
// registry keyed on the platform type (strategy pattern); the coordinator
// treats adapters as a uniform publish capability and never sees platform
// specifics like formatting limits or auth.
package publish

import (
	"context"
	"errors"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/retry"
	"github.com/quillpress/quill/pkg/ledger"
)

var (
	// ErrAuth marks rejected credentials. Terminal.
	ErrAuth = errors.New("publish: authentication failed")

	// ErrRateLimited marks platform rate limiting. Retryable.
	ErrRateLimited = errors.New("publish: rate limited")

	// ErrValidation marks content the platform rejected as invalid.
	// Terminal: the same draft will be rejected again.
	ErrValidation = errors.New("publish: validation failed")

	// ErrPlatformUnavailable marks transient platform failures. Retryable.
	ErrPlatformUnavailable = errors.New("publish: platform unavailable")
)

// Adapter publishes an assembled draft to one platform.
// Implementations own all per-platform adaptation: formatting limits,
// media constraints, auth. Publish returns the platform-assigned external
// reference on success.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, item *ledger.ContentItem, draft *assemble.Draft) (string, error)
}

// Classify is the publish-stage retry classifier. Rate limiting and
// platform unavailability (including timeouts) are retryable; auth and
// validation failures are terminal. An unclassified error is terminal
// after zero retries: surfacing a new failure mode beats looping on it.
func Classify(err error) retry.Class {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrPlatformUnavailable):
		return retry.ClassRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return retry.ClassRetryable
	default:
		return retry.ClassTerminal
	}
}
