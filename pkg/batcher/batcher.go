// Package batcher materializes lists of raw items in fixed-size batches,
// yielding to the scheduler between batches so a single large payload cannot
// monopolize the event loop.
package batcher

import (
	"fmt"
	"runtime"
)

// DefaultBatchSize is the number of items constructed before yielding.
const DefaultBatchSize = 10

// ItemError records the failure of a single item. Item failures are isolated:
// they never abort the batch or subsequent batches.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Process runs fn over items in batches of size, invoking yield between
// batches. A nil yield defaults to runtime.Gosched and a non-positive size
// defaults to DefaultBatchSize. Errors and panics from fn are collected per
// item and returned once all items have been attempted.
func Process[T any](items []T, size int, yield func(), fn func(item T) error) []error {
	if size <= 0 {
		size = DefaultBatchSize
	}

	if yield == nil {
		yield = runtime.Gosched
	}

	var errs []error

	for offset := 0; offset < len(items); offset += size {
		if offset > 0 {
			yield()
		}

		end := offset + size
		if end > len(items) {
			end = len(items)
		}

		for i := offset; i < end; i++ {
			if err := runOne(items[i], fn); err != nil {
				errs = append(errs, ItemError{Index: i, Err: err})
			}
		}
	}

	return errs
}

func runOne[T any](item T, fn func(item T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during construction: %v", r)
		}
	}()

	return fn(item)
}
