package solarcloud

import (
	"context"
	"fmt"
)

const (
	// DefaultPageSize is used when no page size is configured.
	DefaultPageSize = 50
	// MaxBatchSize is the per-call id limit of batched endpoints.
	MaxBatchSize = 10

)

// maxPages bounds a single listing walk.
var maxPages = 1000

// PageFunc fetches one 1-based page and reports the listing total.
type PageFunc[T any] func(ctx context.Context, page, size int) ([]T, int, error)

// CollectPages requests successive pages until the accumulated count reaches
// the reported total or a page comes back shorter than size. Either condition
// ends the loop so stale or inconsistent totals cannot cause extra requests.
// A listing still open after maxPages returns what was collected together
// with ErrPageLimit.
func CollectPages[T any](ctx context.Context, size int, fetch PageFunc[T]) ([]T, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	var all []T
	for page := 1; page <= maxPages; page++ {
		items, total, err := fetch(ctx, page, size)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(all) >= total || len(items) < size {
			return all, nil
		}
	}
	return all, fmt.Errorf("%w: %d pages of %d", ErrPageLimit, maxPages, size)
}

// Chunk splits ids into groups of at most size.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
