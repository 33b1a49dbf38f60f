package network

import (
	"fmt"
	"iter"
	"sync/atomic"

	"affsync/internal/domain"
)

const defaultChunkSize = 500

// singleUse guards a page sequence so a second range over it reports
// ErrPagesConsumed instead of silently refetching
func singleUse[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		if used.Swap(true) {
			var zero T
			yield(zero, domain.ErrPagesConsumed)
			return
		}
		seq(yield)
	}
}

// partialResult wraps the unit failures of a fetch, or returns nil
func partialResult(failures int, last error) error {
	if failures == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d failed, last: %v", domain.ErrPartialResult, failures, last)
}

// CollectProducts drains a page sequence. Failed units are collected into
// a partial-result error.
func CollectProducts(seq iter.Seq2[[]domain.Product, error]) ([]domain.Product, error) {
	var (
		all      []domain.Product
		failures int
		last     error
	)
	for page, err := range seq {
		if err != nil {
			failures++
			last = err
			continue
		}
		all = append(all, page...)
	}
	return all, partialResult(failures, last)
}
