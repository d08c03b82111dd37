package pipeline

import (
	"context"
	"errors"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/collect"
	"github.com/quillpress/quill/internal/retry"
)

// Stage classifiers map each stage's sentinel errors onto retry classes.
// Anything unclassified is terminal: a failure mode nobody anticipated
// should surface, not spin.

func classifyCollect(err error) retry.Class {
	switch {
	case errors.Is(err, collect.ErrSourceUnavailable):
		return retry.ClassRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return retry.ClassRetryable
	case errors.Is(err, collect.ErrContentGone):
		return retry.ClassTerminal
	default:
		return retry.ClassTerminal
	}
}

// Extraction is deterministic over fixed bytes; retrying an unsupported
// format or corrupt input cannot change the answer.
func classifyExtract(err error) retry.Class {
	return retry.ClassTerminal
}

func classifyAssemble(err error) retry.Class {
	switch {
	case errors.Is(err, assemble.ErrModelUnavailable), errors.Is(err, assemble.ErrQuotaExceeded):
		return retry.ClassRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return retry.ClassRetryable
	case errors.Is(err, assemble.ErrInvalidOutput):
		return retry.ClassTerminal
	default:
		return retry.ClassTerminal
	}
}

// Archive store failures are local I/O against infrastructure we own;
// transient contention is the common case, so everything is retryable and
// the attempt budget bounds the damage.
func classifyStore(err error) retry.Class {
	return retry.ClassRetryable
}
