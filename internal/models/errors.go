package models

import "errors"

// Error taxonomy for the sync pipeline. Callers classify with errors.Is;
// wrapped messages carry the original cause.
var (
	// ErrSourceUnavailable covers transport, non-2xx and malformed-payload
	// failures from the grant source. A run hitting it aborts whole and is
	// safely retryable later.
	ErrSourceUnavailable = errors.New("grant source unavailable")

	// ErrBackend is a generative-text call failure. It soft-fails the
	// affected enrichment step only and never aborts a run.
	ErrBackend = errors.New("ai backend error")

	// ErrStore is a persistence failure: a query or write against the
	// database that did not complete. Per-item store failures are counted
	// into a run's error total, not raised.
	ErrStore = errors.New("store error")

	// ErrValidation rejects malformed caller input before any network or
	// store activity.
	ErrValidation = errors.New("validation error")

	// ErrRunInProgress refuses a second sync run while one is active.
	// The refusal is immediate, never queued.
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrNotFound is returned for lookups by id that match nothing.
	ErrNotFound = errors.New("not found")
)
