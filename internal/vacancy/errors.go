package vacancy

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch means the rate-limit retries ran out or the status was neither 200 nor 429.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrTransport wraps network and timeout failures. These are never retried.
	ErrTransport = errors.New("transport failure")
	// ErrEmptyPage means the fetch produced no document.
	ErrEmptyPage = errors.New("empty page")
	// ErrMalformedDetailURL means the detail URL does not end in a numeric id.
	ErrMalformedDetailURL = errors.New("malformed detail url")
	// ErrStoreTransaction marks a rolled back store transaction.
	ErrStoreTransaction = errors.New("store transaction failure")
	// ErrModelCapability marks labeler or embedder failures.
	ErrModelCapability = errors.New("model capability failure")
	// ErrInvalidRange rejects page ranges that cannot be iterated.
	ErrInvalidRange = errors.New("invalid page range")
	// ErrRunNotFound is returned by run stores for unknown ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrQueueClosed is returned by a drained queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// LabelingInconsistency records an inside label that does not continue a started phrase.
type LabelingInconsistency struct {
	Word      string
	Label     string
	PrevLabel string
}

func (e LabelingInconsistency) Error() string {
	return fmt.Sprintf("label %s on %q does not continue %q", e.Label, e.Word, e.PrevLabel)
}
