package domain

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrSyncInProgress   = errors.New("a sync is already running")
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrPartialResult    = errors.New("some units failed to fetch")
	ErrMissingIdentity  = errors.New("record has no id, sku or link to derive a key from")
	ErrNotImage         = errors.New("content is not an image")
	ErrQuotaExhausted   = errors.New("lookup quota exhausted")
	ErrPagesConsumed    = errors.New("page sequence already consumed")
	ErrInvalidOperation = errors.New("invalid operation")
)
